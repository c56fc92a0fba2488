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

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/pkg/runner"
)

// NewStartCommand creates the start command.
func NewStartCommand(o Options) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long: `Start the daemon in the background.

The daemon detaches from the terminal, claims the pid file and runs until
it is stopped. Start is idempotent: if a daemon already holds the pid file
it reports the running pid and exits successfully. A pid file left behind
by a dead process is removed first.

Use --foreground to hold the pid file and run in the current process
(for systemd or containers).`,
		Example: `  # Start in the background
  daemonrunner start

  # Start in the foreground
  daemonrunner start --foreground

  # Use a specific config file
  daemonrunner --config ./daemonrunner.yaml start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := envOptions(cmd, o)
			opts.Foreground = foreground
			return runAction(cmd, opts, func(ctx context.Context, env *Environment) (runner.Result, error) {
				return env.Runner.Start(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the current process instead of detaching")

	return cmd
}
