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
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/daemonrunner/pkg/daemon"
	drerrors "github.com/tombee/daemonrunner/pkg/errors"
	"github.com/tombee/daemonrunner/pkg/pidlock"
	"github.com/tombee/daemonrunner/pkg/process"
)

// DefaultTimeout is the lock acquire window used when none is configured.
const DefaultTimeout = time.Second

// Daemonizer performs detachment and holds the lock for the daemon.
// *daemon.Context and *daemon.Foreground implement it.
type Daemonizer interface {
	PreserveFiles(files ...*os.File)
	Open(ctx context.Context) (daemon.Result, error)
	Close() error
}

// DaemonizerFactory builds the daemonizer for a start.
type DaemonizerFactory func(lock *pidlock.File) Daemonizer

// Runner is the daemon controller.
type Runner struct {
	callback Callback
	lock     *pidlock.File
	timeout  time.Duration

	newDaemonizer DaemonizerFactory
	probe         process.StalenessProbe
	terminator    process.Terminator
	sink          *Sink
	logger        *slog.Logger
	tracer        trace.Tracer
	observers     []Observer
	settle        time.Duration

	preserved  []*os.File
	restarting atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the lock acquire window.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithDaemonizer replaces the detaching daemon context.
func WithDaemonizer(f DaemonizerFactory) Option {
	return func(r *Runner) { r.newDaemonizer = f }
}

// WithDaemonOptions configures the default detaching daemon context.
func WithDaemonOptions(opts daemon.Options) Option {
	return func(r *Runner) {
		r.newDaemonizer = func(lock *pidlock.File) Daemonizer { return daemon.New(lock, opts) }
	}
}

// WithProbe sets the staleness probe.
func WithProbe(p process.StalenessProbe) Option {
	return func(r *Runner) { r.probe = p }
}

// WithTerminator sets the process terminator.
func WithTerminator(t process.Terminator) Option {
	return func(r *Runner) { r.terminator = t }
}

// WithSink sets the message sink.
func WithSink(s *Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the structured logger for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTracer sets the tracer used for action spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithObserver adds an action observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithSettleTimeout makes Restart wait up to d for the stopped process to
// exit before starting. Zero disables the wait.
func WithSettleTimeout(d time.Duration) Option {
	return func(r *Runner) { r.settle = d }
}

// New returns a controller for cb holding the lock at lockPath.
func New(cb Callback, lockPath string, opts ...Option) (*Runner, error) {
	if cb == nil {
		return nil, &drerrors.ConfigError{Key: "callback", Reason: "callback is required"}
	}

	r := &Runner{
		callback: cb,
		timeout:  DefaultTimeout,
		newDaemonizer: func(lock *pidlock.File) Daemonizer {
			return daemon.New(lock, daemon.Options{})
		},
		probe:      process.SignalProbe{},
		terminator: process.SignalTerminator{},
		sink:       DefaultSink(),
		logger:     slog.New(slog.DiscardHandler),
		tracer:     noop.NewTracerProvider().Tracer("daemonrunner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.settle < 0 {
		return nil, &drerrors.ConfigError{Key: "restart_settle", Reason: "must not be negative"}
	}

	lock, err := pidlock.New(lockPath, r.timeout)
	if err != nil {
		return nil, err
	}
	r.lock = lock
	return r, nil
}

// Lock returns the controller's lock file.
func (r *Runner) Lock() *pidlock.File { return r.lock }

// Restarting reports whether a restart is in progress.
func (r *Runner) Restarting() bool { return r.restarting.Load() }

// State derives the daemon state from the lock file.
func (r *Runner) State() (State, int) {
	pid, ok := r.lock.ReadPID()
	if !ok {
		return StateStopped, 0
	}
	if r.probe.IsStale(r.lock) {
		return StateStaleLocked, pid
	}
	return StateRunning, pid
}

// say emits a message that is muted during restart.
func (r *Runner) say(stream Stream, msg string) {
	if r.restarting.Load() {
		return
	}
	r.sink.Emit(stream, msg)
}

func (r *Runner) observe(ctx context.Context, ev Event) {
	for _, o := range r.observers {
		o.Observe(ctx, ev)
	}
}
