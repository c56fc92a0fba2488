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
	"time"
)

// Action names a controller operation.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionStatus  Action = "status"
)

// Outcome is the normal result of an action.
type Outcome string

const (
	// OutcomeStarted is reported inside the daemon just before the callback runs.
	OutcomeStarted Outcome = "started"
	// OutcomeDetached is reported in the launching process once the daemon holds the lock.
	OutcomeDetached Outcome = "detached"
	// OutcomeFinished is reported when the callback returns.
	OutcomeFinished       Outcome = "finished"
	OutcomeAlreadyRunning Outcome = "already_running"
	OutcomeNotRunning     Outcome = "not_running"
	OutcomeStaleCleared   Outcome = "stale_cleared"
	OutcomeStopped        Outcome = "stopped"
	OutcomeRunning        Outcome = "running"
	OutcomeUnknown        Outcome = "unknown"
	OutcomeFailed         Outcome = "failed"
)

// State is the daemon state derived from the lock file.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStaleLocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStaleLocked:
		return "stale_locked"
	default:
		return "unknown"
	}
}

// Result is returned by every action.
type Result struct {
	Action  Action  `json:"action"`
	Outcome Outcome `json:"outcome"`
	PID     int     `json:"pid,omitempty"`
}

// Event is delivered to observers when an action completes, and for
// intermediate steps such as clearing a stale lock during start.
type Event struct {
	Action   Action
	Outcome  Outcome
	PID      int
	Err      error
	Duration time.Duration
}

// Observer receives action events.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
