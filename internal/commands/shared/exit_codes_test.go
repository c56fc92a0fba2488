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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/tombee/daemonrunner/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailed},
		{"config", &pkgerrors.ConfigError{Key: "pid_file", Reason: "must be absolute"}, ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", &pkgerrors.ConfigError{Reason: "x"}), ExitConfig},
		{"lock timeout", &pkgerrors.LockTimeoutError{Path: "/tmp/x.pid", Timeout: time.Second}, ExitLockTimeout},
		{"stop", &pkgerrors.StopError{PID: 12}, ExitStopFailed},
		{"explicit", &ExitError{Code: 9, Message: "custom"}, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("prints suggestion for user visible errors", func(t *testing.T) {
		var buf bytes.Buffer
		err := fmt.Errorf("start: %w", &pkgerrors.ConfigError{Key: "pid_file", Reason: "must be absolute"})

		code := WriteError(&buf, err)

		assert.Equal(t, ExitConfig, code)
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "Error: start: config error at pid_file"))
		assert.Contains(t, out, "\nSuggestion: Use an absolute path for the pid file\n")
	})

	t.Run("no suggestion for plain errors", func(t *testing.T) {
		var buf bytes.Buffer
		code := WriteError(&buf, errors.New("boom"))

		assert.Equal(t, ExitFailed, code)
		assert.Equal(t, "Error: boom\n", buf.String())
	})

	t.Run("nil writes nothing", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, ExitSuccess, WriteError(&buf, nil))
		assert.Empty(t, buf.String())
	})
}

func TestExitError(t *testing.T) {
	cause := errors.New("underlying")
	err := &ExitError{Code: ExitFailed, Message: "start failed", Cause: cause}

	assert.Equal(t, "start failed: underlying", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "custom", (&ExitError{Message: "custom"}).Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "lock_timeout", ErrorCode(fmt.Errorf("x: %w", &pkgerrors.LockTimeoutError{})))
	assert.Equal(t, "stop", ErrorCode(&pkgerrors.StopError{PID: 1}))
	assert.Equal(t, "error", ErrorCode(errors.New("plain")))
}

func TestEmitJSONError(t *testing.T) {
	var buf bytes.Buffer
	err := &pkgerrors.StopError{PID: 5, Vanished: true}

	assert.NoError(t, EmitJSONError(&buf, "stop", err))

	out := buf.String()
	assert.Contains(t, out, `"command": "stop"`)
	assert.Contains(t, out, `"success": false`)
	assert.Contains(t, out, `"code": "stop"`)
	assert.Contains(t, out, "already exited")
}
