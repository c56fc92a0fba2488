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

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/internal/config"
	"github.com/tombee/daemonrunner/internal/heartbeat"
	"github.com/tombee/daemonrunner/internal/lifecycle"
	"github.com/tombee/daemonrunner/internal/log"
	"github.com/tombee/daemonrunner/internal/metrics"
	"github.com/tombee/daemonrunner/internal/tracing"
	"github.com/tombee/daemonrunner/pkg/daemon"
	"github.com/tombee/daemonrunner/pkg/pidlock"
	"github.com/tombee/daemonrunner/pkg/process"
	"github.com/tombee/daemonrunner/pkg/runner"
)

const serviceName = "daemonrunner"

// EnvOptions controls how an Environment is built.
type EnvOptions struct {
	ConfigPath string
	Foreground bool
	Verbose    bool
	Quiet      bool
	JSON       bool

	Stdout io.Writer
	Stderr io.Writer

	// Callback is the daemon body. Nil runs the heartbeat.
	Callback runner.Callback

	// Daemonizer replaces the detaching daemon context. Used by tests.
	Daemonizer runner.DaemonizerFactory

	// StartArgs is the command path the daemon re-executes. Defaults to
	// "start".
	StartArgs []string
}

// Environment is a configured runner and the resources it depends on.
type Environment struct {
	Config  *config.Config
	Logger  *log.Logger
	Runner  *runner.Runner
	Events  *lifecycle.EventLog
	Metrics *metrics.Recorder

	tracing *tracing.Provider
}

// NewEnvironment loads configuration and wires the runner with its
// logger, observers and tracer.
func NewEnvironment(ctx context.Context, opts EnvOptions) (*Environment, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := log.New(loggerConfig(cfg, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	env := &Environment{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRecorder(),
	}

	v, _, _ := shared.GetVersion()
	env.tracing, err = tracing.NewProvider(ctx, cfg.Tracing, serviceName, v)
	if err != nil {
		logger.Close()
		return nil, err
	}

	ropts, err := env.runnerOptions(opts)
	if err != nil {
		env.Close(ctx)
		return nil, err
	}

	cb := opts.Callback
	if cb == nil {
		cb = heartbeat.New(heartbeat.Config{
			Interval:    cfg.Heartbeat.Interval,
			Message:     cfg.Heartbeat.Message,
			MetricsAddr: cfg.Metrics.Addr,
		}, logger.Logger, env.Metrics).Run
	}

	env.Runner, err = runner.New(cb, cfg.PIDFile, ropts...)
	if err != nil {
		env.Close(ctx)
		return nil, err
	}
	if err := env.Runner.RegisterLogger(logger); err != nil {
		env.Close(ctx)
		return nil, err
	}

	logger.Debug("environment ready",
		log.PIDFileKey, cfg.PIDFile,
		"foreground", opts.Foreground,
		"lifecycle_log", cfg.LifecycleLog,
	)
	return env, nil
}

func (e *Environment) runnerOptions(opts EnvOptions) ([]runner.Option, error) {
	cfg := e.Config

	probe, err := process.NewProbe(cfg.Probe)
	if err != nil {
		return nil, err
	}
	sig, err := process.ParseSignal(cfg.StopSignal)
	if err != nil {
		return nil, err
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	color := isTerminal(stdout)
	if opts.JSON || opts.Quiet {
		stdout = io.Discard
	}

	ropts := []runner.Option{
		runner.WithTimeout(cfg.AcquireTimeout),
		runner.WithProbe(probe),
		runner.WithTerminator(process.SignalTerminator{Signal: sig}),
		runner.WithSink(runner.NewSink(stdout, stderr, runner.WithDecorator(shared.StatusDecorator(color)))),
		runner.WithLogger(e.Logger.Logger),
		runner.WithTracer(e.tracing.Tracer(serviceName)),
		runner.WithObserver(e.Metrics),
		runner.WithSettleTimeout(cfg.RestartSettle),
	}

	if cfg.LifecycleLogEnabled() {
		path, err := filepath.Abs(cfg.LifecycleLog)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve lifecycle log: %w", err)
		}
		e.Events = lifecycle.NewEventLog(path, log.WithComponent(e.Logger.Logger, "lifecycle"))
		ropts = append(ropts, runner.WithObserver(e.Events))
	}

	switch {
	case opts.Daemonizer != nil:
		ropts = append(ropts, runner.WithDaemonizer(opts.Daemonizer))
	case opts.Foreground:
		ropts = append(ropts, runner.WithDaemonizer(func(lock *pidlock.File) runner.Daemonizer {
			return daemon.NewForeground(lock)
		}))
	default:
		dopts, err := daemonOptions(cfg, opts.ConfigPath, opts.StartArgs)
		if err != nil {
			return nil, err
		}
		ropts = append(ropts, runner.WithDaemonOptions(dopts))
	}
	return ropts, nil
}

// daemonOptions re-executes the binary with the start command and the same
// config file, so a restart never spawns another restart. The config flag
// goes last since persistent flags are accepted after the subcommand.
func daemonOptions(cfg *config.Config, configPath string, startArgs []string) (daemon.Options, error) {
	umask, err := cfg.UmaskValue()
	if err != nil {
		return daemon.Options{}, err
	}

	args := append([]string(nil), startArgs...)
	if len(args) == 0 {
		args = []string{"start"}
	}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return daemon.Options{}, fmt.Errorf("failed to resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}

	return daemon.Options{
		WorkDir:      cfg.WorkDir,
		Umask:        umask,
		Output:       cfg.Output,
		Args:         args,
		ReadyTimeout: cfg.ReadyTimeout,
	}, nil
}

func loggerConfig(cfg *config.Config, opts EnvOptions) *log.Config {
	lc := &log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		File:      cfg.Log.File,
		AddSource: log.FromEnv().AddSource,
	}
	if opts.Verbose {
		lc.Level = "debug"
	}
	if opts.Verbose || opts.Foreground {
		lc.Output = opts.Stderr
		if lc.Output == nil {
			lc.Output = os.Stderr
		}
	}
	return lc
}

// Close flushes spans and closes the log file.
func (e *Environment) Close(ctx context.Context) error {
	var errs []error
	if e.tracing != nil {
		errs = append(errs, e.tracing.Shutdown(ctx))
	}
	if e.Logger != nil {
		errs = append(errs, e.Logger.Close())
	}
	return errors.Join(errs...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && shared.IsTerminal(f)
}
