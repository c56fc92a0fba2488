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
	"errors"
	"fmt"
)

// Wrap annotates err with message. Returns nil when err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message. Returns nil when err is nil.
//
// Usage:
//
//	if err := cmd.Start(); err != nil {
//	    return errors.Wrapf(err, "starting daemon for %s", lock.Path())
//	}
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// IsVanished reports whether err is a StopError caused by the target
// process no longer existing. Callers treat that as a stale lock rather
// than a failure.
func IsVanished(err error) bool {
	var stopErr *StopError
	return errors.As(err, &stopErr) && stopErr.Vanished
}

// HolderPID returns the pid that held the lock when err is a
// LockTimeoutError, and 0 otherwise.
func HolderPID(err error) int {
	var timeoutErr *LockTimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.HolderPID
	}
	return 0
}
