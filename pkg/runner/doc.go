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
Package runner controls a single-instance daemon through its pid lock.

A Runner wraps a callback and a lock path and offers four actions:

	r, err := runner.New(serve, "/run/myapp.pid")
	if err != nil {
		return err
	}
	res, err := r.Start(ctx)

# States

Every action derives the daemon's state from the lock file when it runs:

  - Stopped: no pid is recorded
  - Running: a pid is recorded and the probe says it is alive
  - StaleLocked: a pid is recorded but the process is gone

Stale locks are always cleaned up locally. "Not running", "already
running" and "unknown" are outcomes reported in the Result and through the
message sink, never errors.

# Restart

Restart stops and then starts without waiting for the old process to exit
unless a settle timeout is configured. If the old daemon still holds the
lock when Start runs, the start is reported as already running.
*/
package runner
