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

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

// Callback is the daemon body. It runs for the daemon's lifetime and
// should return when ctx is cancelled.
type Callback func(ctx context.Context) error

// AdaptCallback converts the supported zero-argument function shapes to a
// Callback: func(), func() error, func(context.Context) and
// func(context.Context) error.
func AdaptCallback(fn any) (Callback, error) {
	required := &drerrors.ConfigError{Key: "callback", Reason: "callback is required"}

	switch f := fn.(type) {
	case nil:
		return nil, required
	case Callback:
		if f == nil {
			return nil, required
		}
		return f, nil
	case func(context.Context) error:
		if f == nil {
			return nil, required
		}
		return f, nil
	case func(context.Context):
		if f == nil {
			return nil, required
		}
		return func(ctx context.Context) error {
			f(ctx)
			return nil
		}, nil
	case func() error:
		if f == nil {
			return nil, required
		}
		return func(context.Context) error { return f() }, nil
	case func():
		if f == nil {
			return nil, required
		}
		return func(context.Context) error {
			f()
			return nil
		}, nil
	default:
		return nil, &drerrors.ConfigError{Key: "callback", Reason: "callback is called without arguments"}
	}
}
