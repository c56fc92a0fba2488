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
Package daemon turns the current program into a background daemon that
holds a pid lock.

Go cannot fork a running runtime, so detachment re-executes the binary.
The launching process starts a copy of itself in a new session with stdin
closed and stdout/stderr sent to an output file, marks it through the
DAEMONRUNNER_DAEMON environment variable and waits until the copy has
recorded its pid in the lock file. Inside the copy, Open sees the marker,
applies the umask and working directory and acquires the lock.

# Preserved files

Files handed to PreserveFiles are passed to the daemon as inherited
descriptors and listed in DAEMONRUNNER_PRESERVED as fd:path pairs.
InheritedFile returns the daemon's copy of such a file by its path, so a
log file opened before detaching keeps working afterwards.
*/
package daemon
