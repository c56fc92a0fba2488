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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
)

func newTestLock(t *testing.T, name string) *File {
	t.Helper()
	f, err := New(filepath.Join(t.TempDir(), name), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { f.Release() })
	return f
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		timeout time.Duration
		wantKey string
	}{
		{name: "empty path", path: "", wantKey: "pid_file"},
		{name: "relative path", path: "run/app.pid", wantKey: "pid_file"},
		{name: "negative timeout", path: "/tmp/app.pid", timeout: -time.Second, wantKey: "acquire_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.path, tt.timeout)
			assert.Nil(t, f)

			var cfgErr *drerrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "New() error = %v, want ConfigError", err)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}

	t.Run("valid", func(t *testing.T) {
		f, err := New("/tmp/x/../app.pid", 0)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/app.pid", f.Path())
		assert.Equal(t, time.Duration(0), f.Timeout())
	})
}

func TestAcquire(t *testing.T) {
	t.Run("records current pid", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, f.Acquire(context.Background(), 0))

		pid, ok := f.ReadPID()
		require.True(t, ok)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, f.Held())
		assert.True(t, f.IsLocked())

		data, err := os.ReadFile(f.Path())
		require.NoError(t, err)
		assert.Equal(t, byte('\n'), data[len(data)-1])
	})

	t.Run("acquire while held is a no-op", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, f.Acquire(context.Background(), 0))
		require.NoError(t, f.Acquire(context.Background(), 0))
		assert.True(t, f.Held())
	})

	t.Run("creates parent directory", func(t *testing.T) {
		f, err := New(filepath.Join(t.TempDir(), "nested", "dir", "app.pid"), 0)
		require.NoError(t, err)
		defer f.Release()

		require.NoError(t, f.Acquire(context.Background(), 0))
		_, err = os.Stat(f.Path())
		assert.NoError(t, err)
	})

	t.Run("times out behind another holder", func(t *testing.T) {
		holder := newTestLock(t, "app.pid")
		require.NoError(t, holder.Acquire(context.Background(), 0))

		waiter, err := New(holder.Path(), 0)
		require.NoError(t, err)

		start := time.Now()
		err = waiter.Acquire(context.Background(), 150*time.Millisecond)
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

		var lockErr *drerrors.LockTimeoutError
		require.True(t, errors.As(err, &lockErr), "Acquire() error = %v, want LockTimeoutError", err)
		assert.Equal(t, holder.Path(), lockErr.Path)
		assert.Equal(t, os.Getpid(), lockErr.HolderPID)
		assert.False(t, waiter.Held())
	})

	t.Run("zero timeout makes one attempt", func(t *testing.T) {
		holder := newTestLock(t, "app.pid")
		require.NoError(t, holder.Acquire(context.Background(), 0))

		waiter, err := New(holder.Path(), 0)
		require.NoError(t, err)

		var lockErr *drerrors.LockTimeoutError
		assert.True(t, errors.As(waiter.Acquire(context.Background(), 0), &lockErr))
	})

	t.Run("succeeds once holder releases", func(t *testing.T) {
		holder := newTestLock(t, "app.pid")
		require.NoError(t, holder.Acquire(context.Background(), 0))

		waiter, err := New(holder.Path(), 0)
		require.NoError(t, err)
		defer waiter.Release()

		go func() {
			time.Sleep(100 * time.Millisecond)
			holder.Release()
		}()

		require.NoError(t, waiter.Acquire(context.Background(), 2*time.Second))
		assert.True(t, waiter.Held())
	})

	t.Run("cancelled context is not a timeout", func(t *testing.T) {
		holder := newTestLock(t, "app.pid")
		require.NoError(t, holder.Acquire(context.Background(), 0))

		waiter, err := New(holder.Path(), 0)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err = waiter.Acquire(ctx, 5*time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("negative timeout", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		var cfgErr *drerrors.ConfigError
		assert.True(t, errors.As(f.Acquire(context.Background(), -1), &cfgErr))
	})
}

func TestAcquire_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.pid")

	const n = 8
	locks := make([]*File, n)
	for i := range locks {
		f, err := New(path, 0)
		require.NoError(t, err)
		locks[i] = f
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, f := range locks {
		wg.Add(1)
		go func(f *File) {
			defer wg.Done()
			if f.Acquire(context.Background(), 0) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(f)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	for _, f := range locks {
		f.Release()
	}
}

func TestAcquire_DirectorySafety(t *testing.T) {
	t.Run("world-writable directory is refused", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "open")
		require.NoError(t, os.Mkdir(dir, 0700))
		require.NoError(t, os.Chmod(dir, 0777))

		f, err := New(filepath.Join(dir, "app.pid"), 0)
		require.NoError(t, err)

		err = f.Acquire(context.Background(), 0)
		assert.ErrorIs(t, err, ErrUnsafeDirectory)
	})

	t.Run("sticky world-writable directory is allowed", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "sticky")
		require.NoError(t, os.Mkdir(dir, 0700))
		require.NoError(t, os.Chmod(dir, 0777|os.ModeSticky))

		f, err := New(filepath.Join(dir, "app.pid"), 0)
		require.NoError(t, err)
		defer f.Release()

		assert.NoError(t, f.Acquire(context.Background(), 0))
	})
}

func TestRelease(t *testing.T) {
	t.Run("removes file", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, f.Acquire(context.Background(), 0))
		require.NoError(t, f.Release())

		_, ok := f.ReadPID()
		assert.False(t, ok)
		assert.False(t, f.Held())
	})

	t.Run("not held is a no-op", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte("4242\n"), 0644))

		require.NoError(t, f.Release())
		pid, ok := f.ReadPID()
		assert.True(t, ok)
		assert.Equal(t, 4242, pid)
	})

	t.Run("keeps file recording another pid", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, f.Acquire(context.Background(), 0))
		require.NoError(t, os.WriteFile(f.Path(), []byte("4242\n"), 0644))

		require.NoError(t, f.Release())
		pid, ok := f.ReadPID()
		assert.True(t, ok)
		assert.Equal(t, 4242, pid)
	})
}

func TestBreak(t *testing.T) {
	t.Run("removes foreign file", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte("4242\n"), 0644))

		require.NoError(t, f.Break())
		_, ok := f.ReadPID()
		assert.False(t, ok)
	})

	t.Run("drops own claim", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, f.Acquire(context.Background(), 0))

		require.NoError(t, f.Break())
		assert.False(t, f.Held())
		require.NoError(t, f.Acquire(context.Background(), 0))
	})

	t.Run("missing file is fine", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		assert.NoError(t, f.Break())
	})
}

func TestBreakIfStale(t *testing.T) {
	t.Run("removes unheld file recording pid", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte("4242\n"), 0644))

		require.NoError(t, f.BreakIfStale(4242))
		_, ok := f.ReadPID()
		assert.False(t, ok)
	})

	t.Run("refuses a live holder", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		holder, err := New(f.Path(), 0)
		require.NoError(t, err)
		require.NoError(t, holder.Acquire(context.Background(), 0))
		defer holder.Release()

		err = f.BreakIfStale(os.Getpid())
		assert.ErrorIs(t, err, ErrLockHeld)
		pid, ok := f.ReadPID()
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, f.IsLocked())
	})

	t.Run("refuses a file recording another pid", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte("5151\n"), 0644))

		assert.ErrorIs(t, f.BreakIfStale(4242), ErrLockChanged)
		pid, ok := f.ReadPID()
		assert.True(t, ok)
		assert.Equal(t, 5151, pid)
	})

	t.Run("refuses an empty file being created", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), nil, 0644))

		assert.ErrorIs(t, f.BreakIfStale(4242), ErrLockChanged)
		_, err := os.Stat(f.Path())
		assert.NoError(t, err)
	})

	t.Run("missing file is fine", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		assert.NoError(t, f.BreakIfStale(4242))
	})

	t.Run("only one of many breakers wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.pid")
		require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))

		const racers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			holders int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f, err := New(path, 0)
				if !assert.NoError(t, err) {
					return
				}
				if err := f.BreakIfStale(4242); err != nil {
					assert.True(t, errors.Is(err, ErrLockHeld) || errors.Is(err, ErrLockChanged), "unexpected error: %v", err)
				}
				if f.Acquire(context.Background(), 0) == nil {
					mu.Lock()
					holders++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, holders)
		pid, ok := (&File{path: path}).ReadPID()
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), pid)
	})
}

func TestReadPID(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantOK  bool
	}{
		{name: "pid with newline", content: "1234\n", want: 1234, wantOK: true},
		{name: "surrounding whitespace", content: "  42 \n", want: 42, wantOK: true},
		{name: "empty", content: ""},
		{name: "garbage", content: "not-a-pid\n"},
		{name: "zero", content: "0\n"},
		{name: "negative", content: "-7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestLock(t, "app.pid")
			require.NoError(t, os.WriteFile(f.Path(), []byte(tt.content), 0644))

			got, ok := f.ReadPID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		_, ok := f.ReadPID()
		assert.False(t, ok)
	})
}

func TestIsLocked(t *testing.T) {
	t.Run("leftover file without holder", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte("4242\n"), 0644))
		assert.False(t, f.IsLocked())
	})

	t.Run("held through another object", func(t *testing.T) {
		holder := newTestLock(t, "app.pid")
		require.NoError(t, holder.Acquire(context.Background(), 0))

		observer, err := New(holder.Path(), 0)
		require.NoError(t, err)
		assert.True(t, observer.IsLocked())
		assert.False(t, observer.Held())
	})

	t.Run("missing file", func(t *testing.T) {
		f := newTestLock(t, "app.pid")
		assert.False(t, f.IsLocked())
	})
}
