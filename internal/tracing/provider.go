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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects and configures the span exporter.
type Config struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// Exporter is console, otlp (gRPC) or otlp-http. Default: console
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP exporters.
	Insecure bool `yaml:"insecure,omitempty"`

	// Output is a file for the console exporter. Default: stderr
	Output string `yaml:"output,omitempty"`

	// Headers are sent with each OTLP export request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Provider owns the SDK tracer provider and its exporter.
type Provider struct {
	tp      *sdktrace.TracerProvider
	closers []func() error
}

// NewProvider builds a provider for cfg. A disabled config yields a
// provider whose tracers do nothing.
func NewProvider(ctx context.Context, cfg Config, serviceName, version string) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exp, closers, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, closers: closers}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tp == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	err := p.tp.Shutdown(ctx)
	for _, c := range p.closers {
		c()
	}
	return err
}
