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

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sys/unix"

	"github.com/tombee/daemonrunner/pkg/daemon"
	drerrors "github.com/tombee/daemonrunner/pkg/errors"
	"github.com/tombee/daemonrunner/pkg/pidlock"
	"github.com/tombee/daemonrunner/pkg/process"
)

// stubProbe reports every recorded pid as stale or alive.
type stubProbe struct{ stale bool }

func (p stubProbe) IsStale(src process.PIDSource) bool {
	_, ok := src.ReadPID()
	return ok && p.stale
}

type recordingTerminator struct {
	mu   sync.Mutex
	pids []int
	err  error
}

func (t *recordingTerminator) Terminate(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pids = append(t.pids, pid)
	return t.err
}

func (t *recordingTerminator) calls() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.pids...)
}

// detachingDaemonizer pretends to be the launching side of a detach.
type detachingDaemonizer struct {
	pid       int
	err       error
	preserved []*os.File
	opened    int
}

func (d *detachingDaemonizer) PreserveFiles(files ...*os.File) {
	d.preserved = append(d.preserved, files...)
}

func (d *detachingDaemonizer) Open(context.Context) (daemon.Result, error) {
	d.opened++
	if d.err != nil {
		return daemon.Result{}, d.err
	}
	return daemon.Result{Detached: true, PID: d.pid}, nil
}

func (d *detachingDaemonizer) Close() error { return nil }

type harness struct {
	runner *Runner
	out    *bytes.Buffer
	errOut *bytes.Buffer
	calls  int
	events []Event
}

func (h *harness) resetOutput() {
	h.out.Reset()
	h.errOut.Reset()
}

// newHarness builds a runner that runs in the foreground unless opts
// replace the daemonizer.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}

	cb := func(context.Context) error {
		h.calls++
		return nil
	}
	base := []Option{
		WithSink(NewSink(h.out, h.errOut)),
		WithDaemonizer(func(lock *pidlock.File) Daemonizer { return daemon.NewForeground(lock) }),
		WithTimeout(0),
		WithObserver(ObserverFunc(func(_ context.Context, ev Event) {
			h.events = append(h.events, ev)
		})),
	}
	r, err := New(cb, filepath.Join(t.TempDir(), "app.pid"), append(base, opts...)...)
	require.NoError(t, err)
	h.runner = r
	return h
}

// holdLock claims the runner's lock through a separate object, the way a
// live daemon would.
func holdLock(t *testing.T, r *Runner) int {
	t.Helper()
	other, err := pidlock.New(r.Lock().Path(), 0)
	require.NoError(t, err)
	require.NoError(t, other.Acquire(context.Background(), 0))
	t.Cleanup(func() { other.Release() })
	return os.Getpid()
}

func writeLock(t *testing.T, r *Runner, pid int) {
	t.Helper()
	require.NoError(t, os.WriteFile(r.Lock().Path(), []byte(fmt.Sprintf("%d\n", pid)), 0644))
}

func TestNew(t *testing.T) {
	cb := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		cb      Callback
		path    string
		opts    []Option
		wantKey string
	}{
		{name: "nil callback", cb: nil, path: "/tmp/app.pid", wantKey: "callback"},
		{name: "relative path", cb: cb, path: "app.pid", wantKey: "pid_file"},
		{name: "negative timeout", cb: cb, path: "/tmp/app.pid", opts: []Option{WithTimeout(-time.Second)}, wantKey: "acquire_timeout"},
		{name: "negative settle", cb: cb, path: "/tmp/app.pid", opts: []Option{WithSettleTimeout(-time.Second)}, wantKey: "restart_settle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.cb, tt.path, tt.opts...)
			assert.Nil(t, r)

			var cfgErr *drerrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "New() error = %v, want ConfigError", err)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		r, err := New(cb, "/tmp/app.pid")
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeout, r.Lock().Timeout())
		assert.False(t, r.Restarting())
	})
}

func TestAdaptCallback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fn      any
		wantErr error
	}{
		{name: "func()", fn: func() {}},
		{name: "func() error", fn: func() error { return boom }, wantErr: boom},
		{name: "func(ctx)", fn: func(context.Context) {}},
		{name: "func(ctx) error", fn: func(context.Context) error { return boom }, wantErr: boom},
		{name: "Callback", fn: Callback(func(context.Context) error { return nil })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := AdaptCallback(tt.fn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantErr, cb(ctx))
		})
	}

	rejected := []struct {
		name   string
		fn     any
		reason string
	}{
		{name: "positional argument", fn: func(int) {}, reason: "callback is called without arguments"},
		{name: "two arguments", fn: func(context.Context, string) error { return nil }, reason: "callback is called without arguments"},
		{name: "not a function", fn: "main", reason: "callback is called without arguments"},
		{name: "nil", fn: nil, reason: "callback is required"},
		{name: "typed nil", fn: (func())(nil), reason: "callback is required"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AdaptCallback(tt.fn)
			var cfgErr *drerrors.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.reason, cfgErr.Reason)
		})
	}
}

func TestStatus(t *testing.T) {
	t.Run("lock file absent", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.runner.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotRunning, res.Outcome)
		assert.Equal(t, "Not running\n", h.out.String())
		assert.Empty(t, h.errOut.String())
	})

	t.Run("live holder", func(t *testing.T) {
		h := newHarness(t)
		pid := holdLock(t, h.runner)

		res, err := h.runner.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeRunning, res.Outcome)
		assert.Equal(t, pid, res.PID)
		assert.Equal(t, fmt.Sprintf("Running with pid: %d\n", pid), h.out.String())
	})

	t.Run("pid recorded without claim", func(t *testing.T) {
		h := newHarness(t)
		writeLock(t, h.runner, os.Getpid())

		res, err := h.runner.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnknown, res.Outcome)
		assert.Equal(t, "Unknown\n", h.out.String())
	})

	t.Run("unparsable file is absent", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, os.WriteFile(h.runner.Lock().Path(), []byte("garbage"), 0644))

		res, err := h.runner.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotRunning, res.Outcome)
	})
}

func TestStart(t *testing.T) {
	t.Run("stopped runs callback holding the lock", func(t *testing.T) {
		h := newHarness(t)
		var pidDuring int
		var lockedDuring bool
		h.runner.callback = func(context.Context) error {
			h.calls++
			pidDuring, _ = h.runner.Lock().ReadPID()
			lockedDuring = h.runner.Lock().IsLocked()
			return nil
		}

		res, err := h.runner.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, 1, h.calls)
		assert.Equal(t, os.Getpid(), pidDuring)
		assert.True(t, lockedDuring)
		assert.Equal(t, "Starting\n", h.out.String())

		_, ok := h.runner.Lock().ReadPID()
		assert.False(t, ok, "lock should be released when the callback returns")
	})

	t.Run("stale lock is broken silently", func(t *testing.T) {
		h := newHarness(t, WithProbe(stubProbe{stale: true}))
		writeLock(t, h.runner, 4242)

		res, err := h.runner.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, 1, h.calls)
		assert.Equal(t, "Starting\n", h.out.String())
		assert.Empty(t, h.errOut.String())

		require.NotEmpty(t, h.events)
		assert.Equal(t, Event{Action: ActionStart, Outcome: OutcomeStaleCleared, PID: 4242}, h.events[0])
	})

	t.Run("already running is idempotent", func(t *testing.T) {
		h := newHarness(t)
		pid := holdLock(t, h.runner)

		for i := 0; i < 2; i++ {
			res, err := h.runner.Start(context.Background())
			require.NoError(t, err)
			assert.Equal(t, OutcomeAlreadyRunning, res.Outcome)
			assert.Equal(t, pid, res.PID)
		}
		assert.Equal(t, 0, h.calls)
		assert.Empty(t, h.out.String())
		want := fmt.Sprintf("Already running with pid: %d\n", pid)
		assert.Equal(t, want+want, h.errOut.String())
	})

	t.Run("detached launcher returns without callback", func(t *testing.T) {
		d := &detachingDaemonizer{pid: 31337}
		h := newHarness(t, WithDaemonizer(func(*pidlock.File) Daemonizer { return d }))

		res, err := h.runner.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Action: ActionStart, Outcome: OutcomeDetached, PID: 31337}, res)
		assert.Equal(t, 0, h.calls)
		assert.Equal(t, 1, d.opened)
	})

	t.Run("lock timeout surfaces", func(t *testing.T) {
		lockErr := &drerrors.LockTimeoutError{Path: "/tmp/app.pid", Timeout: time.Second, HolderPID: 9}
		d := &detachingDaemonizer{err: lockErr}
		h := newHarness(t, WithDaemonizer(func(*pidlock.File) Daemonizer { return d }))

		res, err := h.runner.Start(context.Background())
		assert.Equal(t, OutcomeFailed, res.Outcome)
		var target *drerrors.LockTimeoutError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, 9, target.HolderPID)
	})

	t.Run("callback error releases the lock", func(t *testing.T) {
		h := newHarness(t)
		boom := errors.New("boom")
		h.runner.callback = func(context.Context) error { return boom }

		res, err := h.runner.Start(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, OutcomeFailed, res.Outcome)

		_, ok := h.runner.Lock().ReadPID()
		assert.False(t, ok)
	})
}

func TestStop(t *testing.T) {
	t.Run("stopped is a no-op", func(t *testing.T) {
		term := &recordingTerminator{}
		h := newHarness(t, WithTerminator(term))

		res, err := h.runner.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotRunning, res.Outcome)
		assert.Equal(t, "Not running\n", h.errOut.String())
		assert.Empty(t, h.out.String())
		assert.Empty(t, term.calls())

		_, statErr := os.Stat(h.runner.Lock().Path())
		assert.True(t, os.IsNotExist(statErr), "stop must not touch the lock file")
	})

	t.Run("stale lock is broken without signalling", func(t *testing.T) {
		term := &recordingTerminator{}
		h := newHarness(t, WithTerminator(term), WithProbe(stubProbe{stale: true}))
		writeLock(t, h.runner, 4242)

		res, err := h.runner.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeStaleCleared, res.Outcome)
		assert.Empty(t, term.calls())
		assert.Empty(t, h.out.String())
		assert.Empty(t, h.errOut.String())

		_, ok := h.runner.Lock().ReadPID()
		assert.False(t, ok)
	})

	t.Run("running is terminated", func(t *testing.T) {
		term := &recordingTerminator{}
		h := newHarness(t, WithTerminator(term), WithProbe(stubProbe{}))
		writeLock(t, h.runner, 4242)

		res, err := h.runner.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeStopped, res.Outcome)
		assert.Equal(t, []int{4242}, term.calls())
		assert.Equal(t, "Stopped\n", h.out.String())
	})

	t.Run("vanished process counts as stale", func(t *testing.T) {
		term := &recordingTerminator{err: &drerrors.StopError{PID: 4242, Vanished: true, Cause: unix.ESRCH}}
		h := newHarness(t, WithTerminator(term), WithProbe(stubProbe{}))
		writeLock(t, h.runner, 4242)

		res, err := h.runner.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeStaleCleared, res.Outcome)
		assert.Empty(t, h.out.String())

		_, ok := h.runner.Lock().ReadPID()
		assert.False(t, ok)
	})

	t.Run("delivery failure is a StopError", func(t *testing.T) {
		term := &recordingTerminator{err: &drerrors.StopError{PID: 4242, Cause: unix.EPERM}}
		h := newHarness(t, WithTerminator(term), WithProbe(stubProbe{}))
		writeLock(t, h.runner, 4242)

		res, err := h.runner.Stop(context.Background())
		assert.Equal(t, OutcomeFailed, res.Outcome)
		var stopErr *drerrors.StopError
		require.True(t, errors.As(err, &stopErr))
		assert.Empty(t, h.out.String())

		pid, ok := h.runner.Lock().ReadPID()
		assert.True(t, ok)
		assert.Equal(t, 4242, pid)
	})
}

func TestRestart(t *testing.T) {
	t.Run("stale lock restarts with one message", func(t *testing.T) {
		h := newHarness(t, WithProbe(stubProbe{stale: true}))
		writeLock(t, h.runner, 4242)

		var restartingDuring bool
		h.runner.callback = func(context.Context) error {
			h.calls++
			restartingDuring = h.runner.Restarting()
			return nil
		}

		res, err := h.runner.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ActionRestart, res.Action)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, 1, h.calls)
		assert.True(t, restartingDuring)
		assert.Equal(t, "Restarting\n", h.out.String())
		assert.Empty(t, h.errOut.String())
		assert.False(t, h.runner.Restarting())
	})

	t.Run("not running suppresses stop message", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.runner.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Restarting\n", h.out.String())
		assert.Empty(t, h.errOut.String())
		assert.Equal(t, 1, h.calls)
	})

	t.Run("flag cleared after StopError", func(t *testing.T) {
		term := &recordingTerminator{err: &drerrors.StopError{PID: 4242, Cause: unix.EPERM}}
		h := newHarness(t, WithTerminator(term), WithProbe(stubProbe{}))
		writeLock(t, h.runner, 4242)

		_, err := h.runner.Restart(context.Background())
		var stopErr *drerrors.StopError
		require.True(t, errors.As(err, &stopErr))
		assert.False(t, h.runner.Restarting())
		assert.Equal(t, 0, h.calls)

		h.resetOutput()
		_, err = h.runner.Stop(context.Background())
		require.Error(t, err)
		require.NoError(t, os.Remove(h.runner.Lock().Path()))
		_, err = h.runner.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Not running\n", h.errOut.String(), "messages must not stay suppressed")
	})

	// Termination is fire-and-forget, so when the old daemon has not let go
	// of the lock yet the start half sees it running and does nothing.
	t.Run("known race with a slow exit", func(t *testing.T) {
		term := &recordingTerminator{}
		h := newHarness(t, WithTerminator(term))
		pid := holdLock(t, h.runner)

		res, err := h.runner.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyRunning, res.Outcome)
		assert.Equal(t, []int{pid}, term.calls())
		assert.Equal(t, 0, h.calls)
		assert.Equal(t, "Restarting\n", h.out.String())
		assert.Equal(t, fmt.Sprintf("Already running with pid: %d\n", pid), h.errOut.String())
	})

	t.Run("settle timeout waits for exit", func(t *testing.T) {
		cmd := exec.Command("sleep", "30")
		require.NoError(t, cmd.Start())
		go cmd.Wait()
		t.Cleanup(func() { cmd.Process.Kill() })

		h := newHarness(t, WithSettleTimeout(5*time.Second))
		writeLock(t, h.runner, cmd.Process.Pid)

		res, err := h.runner.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, 1, h.calls)
		assert.Equal(t, "Restarting\n", h.out.String())
		assert.False(t, process.Exists(cmd.Process.Pid))
	})
}

type fileHandler struct{ f *os.File }

func (h fileHandler) File() *os.File { return h.f }

type handlerList []OutputHandler

func (l handlerList) Handlers() []OutputHandler { return l }

func TestRegisterLogger(t *testing.T) {
	dir := t.TempDir()
	a, err := os.Create(filepath.Join(dir, "a.log"))
	require.NoError(t, err)
	defer a.Close()
	b, err := os.Create(filepath.Join(dir, "b.log"))
	require.NoError(t, err)
	defer b.Close()

	d := &detachingDaemonizer{pid: 1}
	h := newHarness(t, WithDaemonizer(func(*pidlock.File) Daemonizer { return d }))

	require.NoError(t, h.runner.RegisterLogger(handlerList{fileHandler{a}, fileHandler{nil}, fileHandler{a}}))
	require.NoError(t, h.runner.RegisterLogger(handlerList{fileHandler{b}, fileHandler{a}, nil}))
	assert.Equal(t, []*os.File{a, b}, h.runner.PreservedFiles())

	_, err = h.runner.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*os.File{a, b}, d.preserved)

	var cfgErr *drerrors.ConfigError
	assert.True(t, errors.As(h.runner.RegisterLogger(nil), &cfgErr))
}

func TestObserverAndTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	term := &recordingTerminator{err: &drerrors.StopError{PID: 4242, Signal: syscall.SIGTERM, Cause: unix.EPERM}}
	h := newHarness(t, WithTracer(tp.Tracer("test")), WithTerminator(term), WithProbe(stubProbe{}))
	writeLock(t, h.runner, 4242)

	_, err := h.runner.Stop(context.Background())
	require.Error(t, err)
	_, err = h.runner.Status(context.Background())
	require.NoError(t, err)

	require.Len(t, h.events, 2)
	assert.Equal(t, ActionStop, h.events[0].Action)
	assert.Equal(t, OutcomeFailed, h.events[0].Outcome)
	assert.Error(t, h.events[0].Err)
	assert.Equal(t, ActionStatus, h.events[1].Action)
	assert.Equal(t, OutcomeUnknown, h.events[1].Outcome)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "daemonrunner.stop", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
	assert.Equal(t, "daemonrunner.status", spans[1].Name())
}

func TestState(t *testing.T) {
	h := newHarness(t, WithProbe(stubProbe{stale: true}))
	state, _ := h.runner.State()
	assert.Equal(t, StateStopped, state)

	writeLock(t, h.runner, 4242)
	state, pid := h.runner.State()
	assert.Equal(t, StateStaleLocked, state)
	assert.Equal(t, 4242, pid)
	assert.Equal(t, "stale_locked", state.String())
	assert.Equal(t, "running", StateRunning.String())
}
