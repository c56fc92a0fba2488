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

package pidlock

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

var (
	// ErrLockExists is returned by a single acquire attempt when the lock
	// file is already present.
	ErrLockExists = drerrors.New("lock file already exists")

	// ErrUnsafeDirectory is returned when the lock file parent is
	// world-writable without the sticky bit.
	ErrUnsafeDirectory = drerrors.New("lock file directory is world-writable")

	// ErrLockHeld is returned by BreakIfStale when a process holds the lock.
	ErrLockHeld = drerrors.New("lock is held by a live process")

	// ErrLockChanged is returned by BreakIfStale when the file no longer
	// records the pid that was judged stale.
	ErrLockChanged = drerrors.New("lock file changed since it was read")
)

// PollInterval paces acquire retries between filesystem events.
var PollInterval = 50 * time.Millisecond

// File is a pid lock file at an absolute path.
type File struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	handle *os.File
}

// New returns a lock for path. The path must be absolute and the timeout
// non-negative.
func New(path string, timeout time.Duration) (*File, error) {
	if path == "" {
		return nil, &drerrors.ConfigError{Key: "pid_file", Reason: "path is required"}
	}
	if !filepath.IsAbs(path) {
		return nil, &drerrors.ConfigError{Key: "pid_file", Reason: fmt.Sprintf("path must be absolute, got %q", path)}
	}
	if timeout < 0 {
		return nil, &drerrors.ConfigError{Key: "acquire_timeout", Reason: fmt.Sprintf("must not be negative, got %v", timeout)}
	}
	return &File{path: filepath.Clean(path), timeout: timeout}, nil
}

// Path returns the lock file path.
func (f *File) Path() string { return f.path }

// Timeout returns the acquire window configured at construction.
func (f *File) Timeout() time.Duration { return f.timeout }

// Held reports whether this object currently holds the lock.
func (f *File) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle != nil
}

// Acquire claims the lock for the current process, waiting up to timeout
// for an existing holder to go away. A zero timeout makes a single attempt.
// It returns a *errors.LockTimeoutError when the window expires.
func (f *File) Acquire(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handle != nil {
		return nil
	}
	if timeout < 0 {
		return &drerrors.ConfigError{Key: "acquire_timeout", Reason: fmt.Sprintf("must not be negative, got %v", timeout)}
	}

	err := f.tryAcquire()
	if !drerrors.Is(err, ErrLockExists) {
		return err
	}
	if timeout == 0 {
		return f.timeoutError(timeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		watcher *fsnotify.Watcher
	)
	if w, werr := fsnotify.NewWatcher(); werr == nil {
		if w.Add(filepath.Dir(f.path)) == nil {
			watcher = w
			events, errs = w.Events, w.Errors
		} else {
			w.Close()
		}
	}
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	limiter := rate.NewLimiter(rate.Every(PollInterval/2), 1)

	for {
		select {
		case <-ctx.Done():
			return f.waitError(ctx, timeout)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
			continue
		case <-ticker.C:
		}

		if err := limiter.Wait(ctx); err != nil {
			return f.waitError(ctx, timeout)
		}
		err := f.tryAcquire()
		if !drerrors.Is(err, ErrLockExists) {
			return err
		}
	}
}

// tryAcquire makes one attempt. Caller holds f.mu.
func (f *File) tryAcquire() error {
	dir := filepath.Dir(f.path)
	if err := verifyDirectorySafety(dir); err != nil {
		return drerrors.Wrap(err, "unsafe lock file location")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return drerrors.Wrap(err, "failed to create lock file directory")
	}

	fh, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockExists
		}
		return drerrors.Wrap(err, "failed to create lock file")
	}

	// Blocking: only probes touch a fresh file, and they hold LOCK_SH briefly.
	if err := unix.Flock(int(fh.Fd()), unix.LOCK_EX); err != nil {
		fh.Close()
		os.Remove(f.path)
		return drerrors.Wrap(err, "failed to lock file")
	}

	if _, err := fmt.Fprintf(fh, "%d\n", os.Getpid()); err != nil {
		discard(fh, f.path)
		return drerrors.Wrap(err, "failed to write pid")
	}
	if err := fh.Sync(); err != nil {
		discard(fh, f.path)
		return drerrors.Wrap(err, "failed to sync lock file")
	}

	f.handle = fh
	return nil
}

func discard(fh *os.File, path string) {
	os.Remove(path)
	unix.Flock(int(fh.Fd()), unix.LOCK_UN)
	fh.Close()
}

func (f *File) timeoutError(timeout time.Duration) error {
	pid, _ := f.ReadPID()
	return &drerrors.LockTimeoutError{Path: f.path, Timeout: timeout, HolderPID: pid}
}

func (f *File) waitError(ctx context.Context, timeout time.Duration) error {
	if drerrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return f.timeoutError(timeout)
	}
	return drerrors.Wrapf(ctx.Err(), "waiting for lock %s", f.path)
}

// Release gives up a lock held by this object. The file is removed only if
// it still records this process. Releasing a lock that is not held is a
// no-op.
func (f *File) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handle == nil {
		return nil
	}

	var rmErr error
	if pid, ok := f.ReadPID(); ok && pid == os.Getpid() {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			rmErr = drerrors.Wrap(err, "failed to remove lock file")
		}
	}

	unix.Flock(int(f.handle.Fd()), unix.LOCK_UN)
	closeErr := f.handle.Close()
	f.handle = nil

	if rmErr != nil {
		return rmErr
	}
	return closeErr
}

// Break removes the lock file regardless of who holds it and drops any
// claim this object had. A missing file is not an error.
func (f *File) Break() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handle != nil {
		f.handle.Close()
		f.handle = nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return drerrors.Wrap(err, "failed to break lock file")
	}
	return nil
}

// BreakIfStale removes the lock file only if no process holds it and it
// still records pid. It returns ErrLockHeld when a live holder has the
// lock and ErrLockChanged when the file now records something else; the
// file is left alone in both cases. A missing file is not an error.
//
// The exclusive claim is taken before the file is re-read, so an acquirer
// that created the file in the meantime either holds it already or blocks
// until the check is over.
func (f *File) BreakIfStale(pid int) error {
	fh, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return drerrors.Wrap(err, "failed to open lock file")
	}
	defer fh.Close()

	if err := unix.Flock(int(fh.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if drerrors.Is(err, unix.EWOULDBLOCK) {
			return ErrLockHeld
		}
		return drerrors.Wrap(err, "failed to lock file")
	}
	defer unix.Flock(int(fh.Fd()), unix.LOCK_UN)

	// The path may have been unlinked and recreated between open and flock.
	opened, err := fh.Stat()
	if err != nil {
		return drerrors.Wrap(err, "failed to stat lock file")
	}
	current, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return drerrors.Wrap(err, "failed to stat lock file")
	}
	if !os.SameFile(opened, current) {
		return ErrLockChanged
	}

	data, err := io.ReadAll(fh)
	if err != nil {
		return drerrors.Wrap(err, "failed to read lock file")
	}
	if recorded, ok := parsePID(data); !ok || recorded != pid {
		return ErrLockChanged
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return drerrors.Wrap(err, "failed to break lock file")
	}
	return nil
}

// ReadPID returns the pid recorded in the lock file. The second result is
// false when the file is missing or does not hold a positive integer.
func (f *File) ReadPID() (int, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}
	return parsePID(data)
}

func parsePID(data []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// IsLocked reports whether a pid is recorded and some process still holds
// the exclusive claim on the file.
func (f *File) IsLocked() bool {
	if _, ok := f.ReadPID(); !ok {
		return false
	}
	if f.Held() {
		return true
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return false
	}
	defer fh.Close()

	err = unix.Flock(int(fh.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == nil {
		unix.Flock(int(fh.Fd()), unix.LOCK_UN)
		return false
	}
	return drerrors.Is(err, unix.EWOULDBLOCK)
}

// verifyDirectorySafety rejects directories any user can write to, unless
// the sticky bit stops them from replacing our file.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return drerrors.Wrap(err, "failed to stat directory")
	}

	mode := info.Mode()
	if mode&0002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
