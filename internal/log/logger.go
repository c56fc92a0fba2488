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

package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/daemonrunner/pkg/daemon"
	"github.com/tombee/daemonrunner/pkg/runner"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug.
const LevelTrace = slog.Level(-8)

// Standard field keys for structured logging.
const (
	PIDKey       = "pid"
	PIDFileKey   = "pid_file"
	ActionKey    = "action"
	ComponentKey = "component"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json
	Format Format

	// Output is the writer for log output. Nil disables it.
	// Default: os.Stderr
	Output io.Writer

	// File is an optional log file, appended to. A descriptor inherited
	// from the launching process is reused.
	File string

	// AddSource adds source file and line information to logs.
	// Default: false
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - DAEMONRUNNER_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - DAEMONRUNNER_LOG_LEVEL: trace, debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, text (default: json)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("DAEMONRUNNER_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("DAEMONRUNNER_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// Logger is a slog.Logger that remembers its outputs so file-backed ones
// can be kept open across daemonization.
type Logger struct {
	*slog.Logger

	outputs []output
	owned   []*os.File
}

type output struct {
	w    io.Writer
	file *os.File
}

// File implements runner.OutputHandler.
func (o output) File() *os.File { return o.file }

// New creates a logger from the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{}
	if cfg.Output != nil {
		o := output{w: cfg.Output}
		if f, ok := cfg.Output.(*os.File); ok {
			o.file = f
		}
		l.outputs = append(l.outputs, o)
	}
	if cfg.File != "" {
		f, owned, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		if owned {
			l.owned = append(l.owned, f)
		}
		l.outputs = append(l.outputs, output{w: f, file: f})
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	handlers := make([]slog.Handler, 0, len(l.outputs))
	for _, o := range l.outputs {
		handlers = append(handlers, newHandler(cfg.Format, o.w, opts))
	}

	switch len(handlers) {
	case 0:
		l.Logger = slog.New(slog.DiscardHandler)
	case 1:
		l.Logger = slog.New(handlers[0])
	default:
		l.Logger = slog.New(&fanoutHandler{handlers: handlers})
	}
	return l, nil
}

// Handlers implements runner.HandlerSource.
func (l *Logger) Handlers() []runner.OutputHandler {
	hs := make([]runner.OutputHandler, 0, len(l.outputs))
	for _, o := range l.outputs {
		hs = append(hs, o)
	}
	return hs
}

// Close closes log files opened by New.
func (l *Logger) Close() error {
	var errs []error
	for _, f := range l.owned {
		errs = append(errs, f.Close())
	}
	l.owned = nil
	return errors.Join(errs...)
}

func newHandler(format Format, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case FormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func openLogFile(path string) (*os.File, bool, error) {
	if f := daemon.InheritedFile(path); f != nil {
		return f, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, true, nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a new logger with a component name field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
