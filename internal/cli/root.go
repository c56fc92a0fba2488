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

package cli

import (
	"github.com/spf13/cobra"

	configcmd "github.com/tombee/daemonrunner/internal/commands/config"
	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/internal/commands/version"
	"github.com/tombee/daemonrunner/pkg/daemoncmd"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command with every subcommand.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemonrunner",
		Short: "daemonrunner - run a single background daemon",
		Long: `daemonrunner runs a long-lived callback as a detached background
process and guarantees that at most one instance holds its pid file.

Run 'daemonrunner start' to launch the daemon and 'daemonrunner status'
to check on it.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	daemoncmd.Mount(cmd, daemoncmd.Options{})
	cmd.AddCommand(configcmd.NewConfigCommand())
	cmd.AddCommand(version.NewVersionCommand())
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}
