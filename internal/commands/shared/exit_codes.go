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

package shared

import (
	"errors"
	"fmt"
	"io"

	pkgerrors "github.com/tombee/daemonrunner/pkg/errors"
)

// Exit codes for daemonrunner commands
const (
	ExitSuccess     = 0
	ExitFailed      = 1
	ExitConfig      = 2
	ExitLockTimeout = 3
	ExitStopFailed  = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if pkgerrors.As(err, &exitErr) {
		return exitErr.Code
	}

	var configErr *pkgerrors.ConfigError
	var timeoutErr *pkgerrors.LockTimeoutError
	var stopErr *pkgerrors.StopError
	switch {
	case pkgerrors.As(err, &configErr):
		return ExitConfig
	case pkgerrors.As(err, &timeoutErr):
		return ExitLockTimeout
	case pkgerrors.As(err, &stopErr):
		return ExitStopFailed
	default:
		return ExitFailed
	}
}

// ErrorCode returns a short machine-readable name for err.
func ErrorCode(err error) string {
	var classifier pkgerrors.ErrorClassifier
	if pkgerrors.As(err, &classifier) {
		return classifier.ErrorType()
	}
	return "error"
}

// Suggestion returns the first user-visible suggestion in err's chain.
func Suggestion(err error) string {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				return userErr.Suggestion()
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// WriteError prints err and its suggestion to w and returns the exit code.
func WriteError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintln(w, "Error:", err.Error())
	if suggestion := Suggestion(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
	return ExitCode(err)
}
