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

// Package config loads daemonrunner settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/daemonrunner/internal/tracing"
	drerrors "github.com/tombee/daemonrunner/pkg/errors"
	"github.com/tombee/daemonrunner/pkg/process"
)

// Config is the top-level configuration.
type Config struct {
	// PIDFile is the absolute path of the lock file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// AcquireTimeout bounds how long the daemon waits for the lock.
	// Zero makes a single attempt.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// WorkDir is the daemon's working directory.
	WorkDir string `yaml:"work_dir,omitempty"`

	// Umask is an octal file mode creation mask applied in the daemon.
	Umask string `yaml:"umask,omitempty"`

	// Output receives the daemon's stdout and stderr.
	Output string `yaml:"output,omitempty"`

	// ReadyTimeout bounds how long start waits for the daemon to lock.
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`

	// RestartSettle makes restart wait for the old daemon to exit.
	// Zero disables the wait.
	RestartSettle time.Duration `yaml:"restart_settle"`

	// Probe selects the liveness check: signal or procfs.
	Probe string `yaml:"probe,omitempty"`

	// StopSignal is sent by stop, e.g. TERM or INT.
	StopSignal string `yaml:"stop_signal,omitempty"`

	// LifecycleLog is the JSON-lines audit log. "-" disables it.
	LifecycleLog string `yaml:"lifecycle_log,omitempty"`

	Log       LogConfig       `yaml:"log"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	Format string `yaml:"format,omitempty"`

	// File is appended to by the daemon and kept open across detachment.
	File string `yaml:"file,omitempty"`
}

// HeartbeatConfig configures the built-in daemon body.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Message  string        `yaml:"message,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint served by the daemon.
type MetricsConfig struct {
	// Addr is a listen address such as 127.0.0.1:9102. Empty disables it.
	Addr string `yaml:"addr,omitempty"`
}

// Default returns a configuration with default values.
func Default() *Config {
	cfg := &Config{
		PIDFile:        filepath.Join(os.TempDir(), "daemonrunner.pid"),
		AcquireTimeout: time.Second,
		WorkDir:        "/",
		Umask:          "022",
		Output:         os.DevNull,
		ReadyTimeout:   5 * time.Second,
		Probe:          "signal",
		StopSignal:     "TERM",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(os.TempDir(), "daemonrunner.log"),
		},
		Heartbeat: HeartbeatConfig{
			Interval: 10 * time.Second,
			Message:  "hello, world!",
		},
	}
	if dir, err := StateDir(); err == nil {
		cfg.LifecycleLog = filepath.Join(dir, "lifecycle.jsonl")
	}
	return cfg
}

// Load reads configPath, or the default config file when configPath is
// empty, then applies environment overrides and validates the result.
// A missing default file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	path := configPath
	if path == "" {
		if p, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &drerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills values a file may have blanked.
func (c *Config) applyDefaults() {
	d := Default()
	if c.WorkDir == "" {
		c.WorkDir = d.WorkDir
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = d.Heartbeat.Interval
	}
	if c.Heartbeat.Message == "" {
		c.Heartbeat.Message = d.Heartbeat.Message
	}
	c.PIDFile = expandHome(c.PIDFile)
	c.Log.File = expandHome(c.Log.File)
	c.LifecycleLog = expandHome(c.LifecycleLog)
}

// loadFromEnv applies DAEMONRUNNER_* overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("DAEMONRUNNER_PID_FILE"); val != "" {
		c.PIDFile = expandHome(val)
	}
	if val := os.Getenv("DAEMONRUNNER_ACQUIRE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.AcquireTimeout = d
		}
	}
	if val := os.Getenv("DAEMONRUNNER_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("DAEMONRUNNER_LOG_FILE"); val != "" {
		c.Log.File = expandHome(val)
	}
	if val := os.Getenv("DAEMONRUNNER_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
}

// Validate returns a *errors.ConfigError describing the first problem.
func (c *Config) Validate() error {
	if c.PIDFile == "" || !filepath.IsAbs(c.PIDFile) {
		return &drerrors.ConfigError{Key: "pid_file", Reason: fmt.Sprintf("must be an absolute path, got %q", c.PIDFile)}
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"acquire_timeout", c.AcquireTimeout},
		{"ready_timeout", c.ReadyTimeout},
		{"restart_settle", c.RestartSettle},
		{"heartbeat.interval", c.Heartbeat.Interval},
	}
	for _, d := range durations {
		if d.val < 0 {
			return &drerrors.ConfigError{Key: d.key, Reason: fmt.Sprintf("must not be negative, got %v", d.val)}
		}
	}

	if _, err := c.UmaskValue(); err != nil {
		return err
	}
	if _, err := process.NewProbe(c.Probe); err != nil {
		return err
	}
	if _, err := process.ParseSignal(c.StopSignal); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return &drerrors.ConfigError{Key: "log.format", Reason: fmt.Sprintf("unknown format %q (want json or text)", c.Log.Format)}
	}
	return tracing.ValidateExporter(c.Tracing.Exporter)
}

// UmaskValue parses Umask as octal. An empty value leaves the umask
// unchanged and is reported as -1.
func (c *Config) UmaskValue() (int, error) {
	if c.Umask == "" {
		return -1, nil
	}
	v, err := strconv.ParseInt(c.Umask, 8, 32)
	if err != nil || v < 0 || v > 0777 {
		return 0, &drerrors.ConfigError{Key: "umask", Reason: fmt.Sprintf("must be an octal mode between 000 and 777, got %q", c.Umask), Cause: err}
	}
	return int(v), nil
}

// LifecycleLogEnabled reports whether the audit log is on.
func (c *Config) LifecycleLogEnabled() bool {
	return c.LifecycleLog != "" && c.LifecycleLog != "-"
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
