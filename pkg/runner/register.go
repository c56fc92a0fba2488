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

package runner

import (
	"os"

	"github.com/tombee/daemonrunner/pkg/daemon"
	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

// OutputHandler is a log output that may be backed by a file.
type OutputHandler interface {
	// File returns the underlying file, or nil.
	File() *os.File
}

// HandlerSource is a logger that can enumerate its outputs.
type HandlerSource interface {
	Handlers() []OutputHandler
}

// RegisterLogger preserves the file-backed outputs of src across
// daemonization. The set is copied at registration time.
func (r *Runner) RegisterLogger(src HandlerSource) error {
	if src == nil {
		return &drerrors.ConfigError{Key: "logger", Reason: "logger is required"}
	}

	var files []*os.File
	for _, h := range src.Handlers() {
		if h == nil {
			continue
		}
		if f := h.File(); f != nil {
			files = append(files, f)
		}
	}
	r.preserved = daemon.MergeFiles(r.preserved, files)
	return nil
}

// PreservedFiles returns the files that will survive daemonization.
func (r *Runner) PreservedFiles() []*os.File {
	return append([]*os.File(nil), r.preserved...)
}
