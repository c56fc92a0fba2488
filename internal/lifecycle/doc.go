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
Package lifecycle keeps an append-only audit trail of daemon actions.

Every start, stop, restart and status outcome, including stale locks that
were cleared on the way, is appended to a JSON-lines file:

	events := lifecycle.NewEventLog("/var/log/myapp/lifecycle.jsonl", logger)
	r, _ := runner.New(cb, pidPath, runner.WithObserver(events))

The log is shared by the launching process and the daemon, so each line
records both the pid the action was about and the pid that wrote it.
History reads back the most recent entries for the CLI.
*/
package lifecycle
