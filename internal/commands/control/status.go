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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/pkg/process"
	"github.com/tombee/daemonrunner/pkg/runner"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(o Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Long: `Report the daemon state from the pid file.

Prints "Running with pid: N" when a process holds the pid file, "Not
running" when there is none, and "Unknown" when a pid is recorded but no
process holds the lock. Use --verbose to also show the pid file and the
daemon's command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := envOptions(cmd, o)
			json := opts.JSON
			opts.JSON = false
			if json {
				opts.Quiet = true
			}

			return runAction(cmd, opts, func(ctx context.Context, env *Environment) (runner.Result, error) {
				res, err := env.Runner.Status(ctx)
				if err != nil {
					return res, err
				}

				var commandLine string
				if res.Outcome == runner.OutcomeRunning && (json || shared.GetVerbose()) {
					commandLine, _ = process.Command(res.PID)
				}
				if json {
					return res, emitResult(cmd.OutOrStdout(), env, res, commandLine)
				}
				if shared.GetVerbose() {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("pid file:"), env.Runner.Lock().Path())
					if commandLine != "" {
						fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("command: "), commandLine)
					}
				}
				return res, nil
			})
		},
	}
}
