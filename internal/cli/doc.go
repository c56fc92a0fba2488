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

/*
Package cli provides the root command for daemonrunner.

It builds the Cobra command tree and handles global concerns like version
information, persistent flags and error handling. The commands themselves
live in the internal/commands subpackages.

# Command Tree

	daemonrunner
	├── start      Start the daemon (--foreground to stay attached)
	├── stop       Signal the running daemon
	├── restart    Stop, then start
	├── status     Report the pid file state
	├── history    Show the lifecycle log
	├── config     Show, locate or validate the configuration
	├── version    Show version
	└── help       Show help (--json for machine-readable output)

# Global Flags

	--config   Config file (default: $XDG_CONFIG_HOME/daemonrunner/config.yaml)
	--verbose  Debug logging to stderr, extra status detail
	--quiet    Suppress status output
	--json     Print results as JSON

# Exit Codes

	0  success, including "Already running" and "Not running"
	1  unexpected failure
	2  invalid configuration
	3  timed out waiting for the pid file lock
	4  the stop signal could not be delivered
*/
package cli
