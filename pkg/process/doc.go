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

// Package process answers two questions about the pid recorded in a lock
// file: is it still alive, and can it be asked to terminate.
//
// Liveness uses signal 0, which performs the permission and existence
// checks of kill(2) without delivering anything. Only ESRCH counts as
// dead; EPERM means the process exists under another user.
package process
