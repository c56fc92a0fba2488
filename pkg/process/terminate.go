// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

// ErrExitTimeout is returned when a process is still alive after the wait.
var ErrExitTimeout = errors.New("process did not exit before timeout")

// Terminator asks a process to exit. It does not wait for the exit.
type Terminator interface {
	Terminate(pid int) error
}

// SignalTerminator delivers a signal, SIGTERM unless Signal is set.
type SignalTerminator struct {
	Signal syscall.Signal
	Kill   KillFunc
}

// Terminate returns a *errors.StopError when the signal cannot be
// delivered. Vanished is set when the failure is ESRCH.
func (t SignalTerminator) Terminate(pid int) error {
	sig := t.Signal
	if sig == 0 {
		sig = unix.SIGTERM
	}
	if pid <= 0 {
		return &drerrors.StopError{PID: pid, Signal: sig, Cause: fmt.Errorf("invalid pid %d", pid)}
	}

	kill := t.Kill
	if kill == nil {
		kill = unix.Kill
	}
	if err := kill(pid, sig); err != nil {
		return &drerrors.StopError{
			PID:      pid,
			Signal:   sig,
			Vanished: errors.Is(err, unix.ESRCH),
			Cause:    err,
		}
	}
	return nil
}

// ParseSignal accepts names like "TERM", "SIGINT" or "sighup".
func ParseSignal(name string) (syscall.Signal, error) {
	if name == "" {
		return unix.SIGTERM, nil
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig := unix.SignalNum(upper)
	if sig == 0 {
		return 0, &drerrors.ConfigError{Key: "stop_signal", Reason: fmt.Sprintf("unknown signal %q", name)}
	}
	return sig, nil
}

// WaitForExit polls until pid is gone, the timeout passes or ctx ends.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !Exists(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrExitTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
