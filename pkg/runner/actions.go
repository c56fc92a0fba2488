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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
	"github.com/tombee/daemonrunner/pkg/pidlock"
	"github.com/tombee/daemonrunner/pkg/process"
)

// Start launches the daemon unless one is already running. In the
// launching process it returns once the daemon holds the lock. Inside the
// daemon it runs the callback and returns when the callback does.
func (r *Runner) Start(ctx context.Context) (res Result, err error) {
	ctx, span := r.begin(ctx, ActionStart)
	began := time.Now()
	defer func() { r.finish(ctx, span, res, err, began) }()

	state, pid := r.State()
	if state == StateStaleLocked {
		cleared, next, current, berr := r.breakStale(pid)
		if berr != nil {
			return Result{Action: ActionStart, Outcome: OutcomeFailed, PID: pid}, berr
		}
		if cleared {
			r.observe(ctx, Event{Action: ActionStart, Outcome: OutcomeStaleCleared, PID: current})
		}
		state, pid = next, current
	}
	if state == StateRunning {
		r.sink.Emit(Stderr, fmt.Sprintf("Already running with pid: %d", pid))
		return Result{Action: ActionStart, Outcome: OutcomeAlreadyRunning, PID: pid}, nil
	}

	r.say(Stdout, "Starting")

	d := r.newDaemonizer(r.lock)
	d.PreserveFiles(r.preserved...)

	opened, err := d.Open(ctx)
	if err != nil {
		if holder := drerrors.HolderPID(err); holder > 0 {
			r.logger.Info("pid lock held by another process", "holder_pid", holder, "pid_file", r.lock.Path())
		}
		return Result{Action: ActionStart, Outcome: OutcomeFailed}, drerrors.Wrap(err, "opening daemon context")
	}
	if opened.Detached {
		r.logger.Debug("daemon detached", "pid", opened.PID, "pid_file", r.lock.Path())
		return Result{Action: ActionStart, Outcome: OutcomeDetached, PID: opened.PID}, nil
	}

	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = drerrors.Wrap(cerr, "releasing lock")
			res.Outcome = OutcomeFailed
		}
	}()

	r.logger.Info("daemon started", "pid", opened.PID, "pid_file", r.lock.Path())
	r.observe(ctx, Event{Action: ActionStart, Outcome: OutcomeStarted, PID: opened.PID})

	if err := r.callback(ctx); err != nil {
		return Result{Action: ActionStart, Outcome: OutcomeFailed, PID: opened.PID}, drerrors.Wrap(err, "callback failed")
	}
	return Result{Action: ActionStart, Outcome: OutcomeFinished, PID: opened.PID}, nil
}

// Stop asks the running daemon to terminate. It does not wait for the
// process to exit.
func (r *Runner) Stop(ctx context.Context) (res Result, err error) {
	ctx, span := r.begin(ctx, ActionStop)
	began := time.Now()
	defer func() { r.finish(ctx, span, res, err, began) }()

	state, pid := r.State()
	switch state {
	case StateStopped:
		r.say(Stderr, "Not running")
		return Result{Action: ActionStop, Outcome: OutcomeNotRunning}, nil
	case StateStaleLocked:
		return r.stopStale(pid)
	}

	if !r.lock.IsLocked() {
		r.logger.Debug("signalling live pid that does not hold the lock",
			"pid", pid, "pid_file", r.lock.Path())
	}
	if err := r.terminator.Terminate(pid); err != nil {
		if drerrors.IsVanished(err) {
			return r.stopStale(pid)
		}
		return Result{Action: ActionStop, Outcome: OutcomeFailed, PID: pid}, err
	}

	r.say(Stdout, "Stopped")
	return Result{Action: ActionStop, Outcome: OutcomeStopped, PID: pid}, nil
}

// Restart stops and starts the daemon with only a single "Restarting"
// message.
func (r *Runner) Restart(ctx context.Context) (res Result, err error) {
	r.restarting.Store(true)
	defer r.restarting.Store(false)

	ctx, span := r.begin(ctx, ActionRestart)
	began := time.Now()
	defer func() { r.finish(ctx, span, res, err, began) }()

	r.sink.Emit(Stdout, "Restarting")

	stopped, err := r.Stop(ctx)
	if err != nil {
		return Result{Action: ActionRestart, Outcome: OutcomeFailed, PID: stopped.PID}, err
	}

	if r.settle > 0 && stopped.Outcome == OutcomeStopped {
		if werr := process.WaitForExit(ctx, stopped.PID, r.settle); werr != nil {
			r.logger.Warn("previous daemon still running after settle timeout",
				"pid", stopped.PID, "settle", r.settle, "error", werr)
		}
	}

	started, err := r.Start(ctx)
	return Result{Action: ActionRestart, Outcome: started.Outcome, PID: started.PID}, err
}

// Status reports the daemon state without changing anything.
func (r *Runner) Status(ctx context.Context) (res Result, err error) {
	ctx, span := r.begin(ctx, ActionStatus)
	began := time.Now()
	defer func() { r.finish(ctx, span, res, err, began) }()

	pid, ok := r.lock.ReadPID()
	switch {
	case !ok:
		r.sink.Emit(Stdout, "Not running")
		return Result{Action: ActionStatus, Outcome: OutcomeNotRunning}, nil
	case r.lock.IsLocked():
		r.sink.Emit(Stdout, fmt.Sprintf("Running with pid: %d", pid))
		return Result{Action: ActionStatus, Outcome: OutcomeRunning, PID: pid}, nil
	default:
		r.sink.Emit(Stdout, "Unknown")
		return Result{Action: ActionStatus, Outcome: OutcomeUnknown, PID: pid}, nil
	}
}

// stopStale clears a stale lock on behalf of Stop. If another process
// took the lock in the meantime, Stop continues against the new state.
func (r *Runner) stopStale(pid int) (Result, error) {
	cleared, state, next, err := r.breakStale(pid)
	switch {
	case err != nil:
		return Result{Action: ActionStop, Outcome: OutcomeFailed, PID: pid}, err
	case cleared:
		return Result{Action: ActionStop, Outcome: OutcomeStaleCleared, PID: pid}, nil
	case state == StateStopped:
		r.say(Stderr, "Not running")
		return Result{Action: ActionStop, Outcome: OutcomeNotRunning}, nil
	case state == StateRunning:
		if err := r.terminator.Terminate(next); err != nil {
			return Result{Action: ActionStop, Outcome: OutcomeFailed, PID: next}, err
		}
		r.say(Stdout, "Stopped")
		return Result{Action: ActionStop, Outcome: OutcomeStopped, PID: next}, nil
	default:
		return Result{Action: ActionStop, Outcome: OutcomeFailed, PID: next},
			drerrors.Wrapf(pidlock.ErrLockHeld, "clearing stale lock for pid %d", next)
	}
}

// maxBreakAttempts bounds how often breakStale re-derives the state when
// the lock keeps changing hands underneath it.
const maxBreakAttempts = 3

// breakStale removes the lock recorded for a stale pid. The removal is
// conditional: when a live process holds the lock, or the file records a
// different pid, nothing is removed and the state is derived again. It
// reports whether a stale lock was cleared and the state to continue from.
func (r *Runner) breakStale(pid int) (cleared bool, state State, current int, err error) {
	state, current = StateStaleLocked, pid
	for attempt := 0; attempt < maxBreakAttempts && state == StateStaleLocked; attempt++ {
		r.logger.Warn("removing stale pid lock", "pid", current, "pid_file", r.lock.Path())
		berr := r.lock.BreakIfStale(current)
		switch {
		case berr == nil:
			return true, StateStopped, current, nil
		case drerrors.Is(berr, pidlock.ErrLockHeld), drerrors.Is(berr, pidlock.ErrLockChanged):
			r.logger.Info("pid lock changed hands, not removing it", "pid", current, "reason", berr)
			state, current = r.State()
		default:
			return false, state, current, drerrors.Wrap(berr, "breaking stale lock")
		}
	}
	return false, state, current, nil
}

func (r *Runner) begin(ctx context.Context, action Action) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "daemonrunner."+string(action),
		trace.WithAttributes(
			attribute.String("daemonrunner.action", string(action)),
			attribute.String("daemonrunner.pid_file", r.lock.Path()),
		))
}

func (r *Runner) finish(ctx context.Context, span trace.Span, res Result, err error, began time.Time) {
	span.SetAttributes(
		attribute.String("daemonrunner.outcome", string(res.Outcome)),
		attribute.Int("daemonrunner.pid", res.PID),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("action failed", "action", res.Action, "pid", res.PID, "error", err)
	} else {
		r.logger.Debug("action complete", "action", res.Action, "outcome", res.Outcome, "pid", res.PID)
	}
	span.End()

	r.observe(ctx, Event{
		Action:   res.Action,
		Outcome:  res.Outcome,
		PID:      res.PID,
		Err:      err,
		Duration: time.Since(began),
	})
}
