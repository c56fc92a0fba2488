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
Package pidlock implements the on-disk lock file that makes a daemon a
single instance per host.

# Protocol

A lock is claimed by creating the file with O_CREATE|O_EXCL, taking an
exclusive flock on the new descriptor and writing the holder's pid followed
by a newline. The descriptor stays open for the holder's lifetime, so the
flock disappears with the process even when the file is left behind.

Readers never take the exclusive lock. IsLocked probes with a non-blocking
shared flock on a separate descriptor: a refused probe means some process
still holds the claim, a granted probe means the file is a leftover.

# Waiting

Acquire retries for up to the configured timeout. Retries are woken by
fsnotify events on the parent directory and by a paced poll, so a release
by another process is noticed promptly without spinning.
*/
package pidlock
