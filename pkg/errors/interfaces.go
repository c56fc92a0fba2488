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

// UserVisibleError defines errors that are printed to the operator by the
// CLI with a short message and an actionable suggestion.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns the message printed after "Error:".
	UserMessage() string

	// Suggestion returns guidance for resolving the error, or "".
	Suggestion() string
}

// ErrorClassifier lets callers branch on an error category without
// type-switching on concrete types.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category:
	// "config", "lock_timeout" or "stop".
	ErrorType() string

	// IsRetryable returns true if repeating the action may succeed.
	IsRetryable() bool
}
