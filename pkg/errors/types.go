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

package errors

import (
	"fmt"
	"syscall"
	"time"
)

// ConfigError represents an invalid construction-time setting such as a
// relative lock path, a negative timeout or a callback with the wrong shape.
// It is fatal and never retried.
type ConfigError struct {
	// Key is the setting that has the problem (e.g., "pid_file", "acquire_timeout")
	Key string

	// Reason explains what's wrong with the setting
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func (e *ConfigError) IsUserVisible() bool { return true }
func (e *ConfigError) UserMessage() string { return e.Error() }
func (e *ConfigError) ErrorType() string   { return "config" }
func (e *ConfigError) IsRetryable() bool   { return false }

// Suggestion implements UserVisibleError.
func (e *ConfigError) Suggestion() string {
	switch e.Key {
	case "pid_file":
		return "Use an absolute path for the pid file"
	case "callback":
		return "Pass a function that takes no arguments (or only a context)"
	case "":
		return ""
	default:
		return fmt.Sprintf("Check the %q setting in your config file", e.Key)
	}
}

// LockTimeoutError is returned when the pid lock could not be claimed
// within the acquire window.
type LockTimeoutError struct {
	// Path is the lock file path
	Path string

	// Timeout is the acquire window that expired
	Timeout time.Duration

	// HolderPID is the pid recorded in the lock file, or 0 if unreadable
	HolderPID int
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for lock %s", e.Timeout, e.Path)
	if e.HolderPID > 0 {
		msg = fmt.Sprintf("%s (held by pid %d)", msg, e.HolderPID)
	}
	return msg
}

func (e *LockTimeoutError) IsUserVisible() bool { return true }
func (e *LockTimeoutError) UserMessage() string { return e.Error() }
func (e *LockTimeoutError) ErrorType() string   { return "lock_timeout" }

// IsRetryable returns true: the holder may have released the lock since.
func (e *LockTimeoutError) IsRetryable() bool { return true }

// Suggestion implements UserVisibleError.
func (e *LockTimeoutError) Suggestion() string {
	return "Another instance may be starting; check 'daemonrunner status' or raise acquire_timeout"
}

// StopError is returned when the termination signal could not be
// delivered to the recorded pid.
type StopError struct {
	// PID is the process that was signalled
	PID int

	// Signal is the signal that was sent
	Signal syscall.Signal

	// Vanished is set when delivery failed because the process no longer exists
	Vanished bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Failed to terminate: %d: %v", e.PID, e.Cause)
	}
	return fmt.Sprintf("Failed to terminate: %d", e.PID)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StopError) Unwrap() error {
	return e.Cause
}

func (e *StopError) IsUserVisible() bool { return true }
func (e *StopError) UserMessage() string { return e.Error() }
func (e *StopError) ErrorType() string   { return "stop" }
func (e *StopError) IsRetryable() bool   { return false }

// Suggestion implements UserVisibleError.
func (e *StopError) Suggestion() string {
	if e.Vanished {
		return "The process already exited; run 'daemonrunner stop' again to clear the lock"
	}
	return fmt.Sprintf("Check that you have permission to signal pid %d", e.PID)
}
