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

// NewRestartCommand creates the restart command.
func NewRestartCommand(o Options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		Long: `Stop the daemon if it is running and start a new one.

Stopping only sends the stop signal. With the default restart_settle of 0
the start half runs straight away, so an old daemon that has not exited
yet is still seen as running: restart then prints "Already running with
pid: N" and launches nothing. Set restart_settle in the config file
(e.g. 5s) to wait up to that long for the old process to exit first.`,
		Example: `  # Wait for the old daemon when the config sets restart_settle: 5s
  daemonrunner --config ./daemonrunner.yaml restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, envOptions(cmd, o), func(ctx context.Context, env *Environment) (runner.Result, error) {
				return env.Runner.Restart(ctx)
			})
		},
	}
}
