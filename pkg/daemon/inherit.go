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
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	inheritOnce sync.Once
	inheritMu   sync.Mutex
	inheritFDs  map[string]int
	inherited   = make(map[string]*os.File)
)

// InheritedFile returns the descriptor preserved for path by the launching
// process, or nil if there is none.
func InheritedFile(path string) *os.File {
	loadInherited()

	inheritMu.Lock()
	defer inheritMu.Unlock()
	if f, ok := inherited[path]; ok {
		return f
	}
	fd, ok := inheritFDs[path]
	if !ok {
		return nil
	}
	f := os.NewFile(uintptr(fd), path)
	inherited[path] = f
	return f
}

func loadInherited() {
	inheritOnce.Do(func() {
		inheritFDs = decodePreserved(os.Getenv(EnvPreserved))
	})
}

// Preserved files land at descriptor 3 onwards, in ExtraFiles order.
func encodePreserved(files []*os.File) string {
	parts := make([]string, 0, len(files))
	for i, f := range files {
		parts = append(parts, fmt.Sprintf("%d:%s", 3+i, f.Name()))
	}
	return strings.Join(parts, ",")
}

func decodePreserved(value string) map[string]int {
	files := make(map[string]int)
	if value == "" {
		return files
	}
	for _, part := range strings.Split(value, ",") {
		fdStr, path, ok := strings.Cut(part, ":")
		if !ok || path == "" {
			continue
		}
		fd, err := strconv.Atoi(fdStr)
		if err != nil || fd < 3 {
			continue
		}
		files[path] = fd
	}
	return files
}
