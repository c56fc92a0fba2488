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

package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{}, "daemonrunner", "dev")
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Console(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spans.json")
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: ExporterConsole, Output: out}, "daemonrunner", "dev")
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "daemonrunner.status")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "daemonrunner.status"), "console output = %s", data)
	assert.Contains(t, string(data), "service.name")
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "jaeger"}, "daemonrunner", "dev")
	var cfgErr *drerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "tracing.exporter", cfgErr.Key)
}

func TestNewExporter_OTLP(t *testing.T) {
	for _, name := range []string{ExporterOTLP, ExporterOTLPHTTP} {
		t.Run(name, func(t *testing.T) {
			exp, closers, err := newExporter(context.Background(), Config{
				Exporter: name,
				Endpoint: "127.0.0.1:4317",
				Insecure: true,
				Headers:  map[string]string{"x-team": "ops"},
			})
			require.NoError(t, err)
			require.NotNil(t, exp)
			assert.Empty(t, closers)

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			exp.Shutdown(ctx)
		})
	}
}

func TestValidateExporter(t *testing.T) {
	for _, name := range []string{"", ExporterConsole, ExporterOTLP, ExporterOTLPHTTP} {
		assert.NoError(t, ValidateExporter(name), name)
	}
	assert.Error(t, ValidateExporter("zipkin"))
}
