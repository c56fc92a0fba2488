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

package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/daemonrunner/pkg/runner"
)

// Event is one line of the lifecycle log.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Outcome     string    `json:"outcome"`
	PID         int       `json:"pid,omitempty"`
	ReporterPID int       `json:"reporter_pid"`
	Success     bool      `json:"success"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// EventLog appends lifecycle events to a file. It implements
// runner.Observer.
type EventLog struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewEventLog returns an event log writing to path. Write failures are
// reported through logger, which may be nil.
func NewEventLog(path string, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventLog{
		path:   path,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Path returns the log file path.
func (l *EventLog) Path() string { return l.path }

// Observe records a runner event.
func (l *EventLog) Observe(_ context.Context, ev runner.Event) {
	event := Event{
		Action:     string(ev.Action),
		Outcome:    string(ev.Outcome),
		PID:        ev.PID,
		Success:    ev.Err == nil,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		event.Error = ev.Err.Error()
	}
	if err := l.Write(event); err != nil {
		l.logger.Warn("failed to record lifecycle event", "action", ev.Action, "error", err)
	}
}

// Write appends event, filling in the id, timestamp and reporter pid when
// they are unset.
func (l *EventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = l.newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.ReporterPID == 0 {
		event.ReporterPID = os.Getpid()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// One write per line keeps concurrent O_APPEND writers from interleaving.
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// History returns up to limit of the most recent events, oldest first.
// A limit of zero or less returns everything. Unparsable lines are
// skipped and a missing file yields no events.
func (l *EventLog) History(limit int) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lifecycle log: %w", err)
	}
	return events, nil
}
