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

// Package daemoncmd mounts the daemon control commands on a cobra command
// tree. A program passes the function it wants to run as the daemon and
// gets start, stop, restart, status and history wired to it:
//
//	root := &cobra.Command{Use: "myapp"}
//	daemoncmd.Mount(root, daemoncmd.Options{Callback: serve})
//	os.Exit(daemoncmd.Execute(root))
//
// The daemon re-executes the same binary with the start command, so the
// program must build the same command tree on every run.
package daemoncmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/internal/commands/control"
	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/pkg/runner"
)

// Options configures the mounted commands.
type Options struct {
	// Callback is the daemon body. It should return when its context is
	// cancelled. Nil runs the built-in heartbeat.
	Callback runner.Callback
}

// Commands returns the control commands. The global flags they read are
// registered by AddFlags.
func Commands(opts Options) []*cobra.Command {
	return control.NewCommands(control.Options{Callback: opts.Callback})
}

// Mount registers the global flags on parent and adds the control
// commands under it.
func Mount(parent *cobra.Command, opts Options) {
	AddFlags(parent)
	for _, sub := range Commands(opts) {
		sub.Annotations = map[string]string{"group": "daemon"}
		parent.AddCommand(sub)
	}
}

// AddFlags registers --verbose, --quiet, --json and --config as persistent
// flags on cmd. A name cmd already defines is skipped, and a taken
// shorthand is dropped.
func AddFlags(cmd *cobra.Command) {
	verbose, quiet, json, config := shared.RegisterFlagPointers()

	addBool(cmd, verbose, "verbose", "v", "Enable verbose output")
	addBool(cmd, quiet, "quiet", "q", "Suppress non-error output")
	addBool(cmd, json, "json", "", "Output in JSON format")
	if !defined(cmd, "config") {
		cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/daemonrunner/config.yaml)")
	}
}

func addBool(cmd *cobra.Command, p *bool, name, shorthand, usage string) {
	if defined(cmd, name) {
		return
	}
	if shorthand != "" && (cmd.PersistentFlags().ShorthandLookup(shorthand) != nil || cmd.Flags().ShorthandLookup(shorthand) != nil) {
		shorthand = ""
	}
	cmd.PersistentFlags().BoolVarP(p, name, shorthand, false, usage)
}

func defined(cmd *cobra.Command, name string) bool {
	return cmd.PersistentFlags().Lookup(name) != nil || cmd.Flags().Lookup(name) != nil
}

// Execute runs root with a context that SIGTERM, SIGHUP or an interrupt
// cancels, so a running daemon body returns and the pid file is released.
// It returns the process exit code.
func Execute(root *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP, os.Interrupt)
	defer stop()
	return ExecuteContext(ctx, root)
}

// ExecuteContext runs root with ctx. Errors are printed to the command's
// error output with a suggestion when one is known, and mapped to an exit
// code: 2 for configuration, 3 for lock timeouts, 4 for stop failures and 1
// otherwise.
func ExecuteContext(ctx context.Context, root *cobra.Command) int {
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.ExecuteContext(ctx); err != nil {
		return shared.WriteError(root.ErrOrStderr(), err)
	}
	return shared.ExitSuccess
}
