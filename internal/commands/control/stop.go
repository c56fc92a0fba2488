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

// NewStopCommand creates the stop command.
func NewStopCommand(o Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long: `Send the stop signal to the daemon recorded in the pid file.

Stop does not wait for the daemon to exit. If the recorded process is
already gone the stale pid file is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, envOptions(cmd, o), func(ctx context.Context, env *Environment) (runner.Result, error) {
				return env.Runner.Stop(ctx)
			})
		},
	}
}
