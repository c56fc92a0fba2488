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

package daemon

import (
	"context"
	"os"

	"github.com/tombee/daemonrunner/pkg/pidlock"
)

// Foreground holds the lock in the current process without detaching.
type Foreground struct {
	lock      *pidlock.File
	preserved []*os.File
}

// NewForeground returns a non-detaching context for lock.
func NewForeground(lock *pidlock.File) *Foreground {
	return &Foreground{lock: lock}
}

// PreserveFiles records files for inspection; nothing is closed anyway.
func (f *Foreground) PreserveFiles(files ...*os.File) {
	f.preserved = MergeFiles(f.preserved, files)
}

// PreservedFiles returns the recorded files.
func (f *Foreground) PreservedFiles() []*os.File {
	return append([]*os.File(nil), f.preserved...)
}

// Open acquires the lock with its configured timeout.
func (f *Foreground) Open(ctx context.Context) (Result, error) {
	if err := f.lock.Acquire(ctx, f.lock.Timeout()); err != nil {
		return Result{}, err
	}
	return Result{PID: os.Getpid()}, nil
}

// Close releases the lock.
func (f *Foreground) Close() error {
	return f.lock.Release()
}
