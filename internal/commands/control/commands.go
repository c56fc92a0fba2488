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
	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/pkg/runner"
)

// Options configures the control commands.
type Options struct {
	// Callback is the daemon body. Nil runs the built-in heartbeat.
	Callback runner.Callback
}

// NewCommands returns start, stop, restart, status and history sharing opts.
func NewCommands(opts Options) []*cobra.Command {
	return []*cobra.Command{
		NewStartCommand(opts),
		NewStopCommand(opts),
		NewRestartCommand(opts),
		NewStatusCommand(opts),
		NewHistoryCommand(),
	}
}
