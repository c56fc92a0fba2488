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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

// PIDSource is anything that can report a recorded pid, typically a
// *pidlock.File.
type PIDSource interface {
	ReadPID() (int, bool)
}

// StalenessProbe decides whether the pid recorded by a source belongs to a
// process that no longer exists.
type StalenessProbe interface {
	IsStale(src PIDSource) bool
}

// KillFunc matches unix.Kill and lets tests stand in for the kernel.
type KillFunc func(pid int, sig syscall.Signal) error

// SignalProbe checks liveness with signal 0.
type SignalProbe struct {
	Kill KillFunc
}

// IsStale returns false when no pid is recorded.
func (p SignalProbe) IsStale(src PIDSource) bool {
	pid, ok := src.ReadPID()
	if !ok {
		return false
	}
	return !alive(p.kill(), pid)
}

func (p SignalProbe) kill() KillFunc {
	if p.Kill != nil {
		return p.Kill
	}
	return unix.Kill
}

// ProcFSProbe checks liveness by looking for the pid under a procfs mount.
// Where Root does not exist it behaves like SignalProbe.
type ProcFSProbe struct {
	// Root defaults to /proc
	Root string
}

// IsStale returns false when no pid is recorded.
func (p ProcFSProbe) IsStale(src PIDSource) bool {
	pid, ok := src.ReadPID()
	if !ok {
		return false
	}

	root := p.Root
	if root == "" {
		root = "/proc"
	}
	if _, err := os.Stat(root); err != nil {
		return !alive(unix.Kill, pid)
	}

	_, err := os.Stat(filepath.Join(root, strconv.Itoa(pid)))
	return os.IsNotExist(err)
}

// Exists reports whether a process with the given pid exists.
func Exists(pid int) bool {
	return alive(unix.Kill, pid)
}

func alive(kill KillFunc, pid int) bool {
	if pid <= 0 {
		return false
	}
	err := kill(pid, syscall.Signal(0))
	return !errors.Is(err, unix.ESRCH)
}

// NewProbe returns the probe registered under name: "signal" (the default
// when name is empty) or "procfs".
func NewProbe(name string) (StalenessProbe, error) {
	switch name {
	case "", "signal":
		return SignalProbe{}, nil
	case "procfs":
		return ProcFSProbe{}, nil
	default:
		return nil, &drerrors.ConfigError{Key: "probe", Reason: fmt.Sprintf("unknown probe %q (want signal or procfs)", name)}
	}
}
