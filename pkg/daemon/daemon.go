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
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	drerrors "github.com/tombee/daemonrunner/pkg/errors"
	"github.com/tombee/daemonrunner/pkg/pidlock"
)

const (
	// EnvDaemon marks a process started by Open as the daemon.
	EnvDaemon = "DAEMONRUNNER_DAEMON"

	// EnvPreserved lists inherited descriptors as fd:path pairs.
	EnvPreserved = "DAEMONRUNNER_PRESERVED"
)

// DefaultReadyTimeout bounds how long the launching process waits for the
// daemon to record its pid.
const DefaultReadyTimeout = 5 * time.Second

// reapGrace is how long a daemon that missed ReadyTimeout gets to exit
// after SIGTERM.
var reapGrace = time.Second

// Result describes which side of the detachment the caller is on.
type Result struct {
	// Detached is true in the launching process. PID is then the daemon.
	Detached bool `json:"detached"`

	// PID is the daemon's process id.
	PID int `json:"pid"`
}

// Options configures a detaching Context.
type Options struct {
	// WorkDir is the daemon's working directory. Defaults to "/".
	WorkDir string

	// Umask is applied inside the daemon. Negative leaves it unchanged.
	Umask int

	// Output receives the daemon's stdout and stderr. Defaults to os.DevNull.
	Output string

	// Binary is the executable to re-run. Defaults to os.Executable().
	Binary string

	// Args are passed to the daemon. Defaults to os.Args[1:].
	Args []string

	// Env is the daemon's base environment. Defaults to os.Environ().
	Env []string

	// ReadyTimeout defaults to DefaultReadyTimeout.
	ReadyTimeout time.Duration
}

// Context detaches the program and holds the pid lock in the daemon.
type Context struct {
	lock      *pidlock.File
	opts      Options
	preserved []*os.File
}

// New returns a detaching context for lock.
func New(lock *pidlock.File, opts Options) *Context {
	if opts.WorkDir == "" {
		opts.WorkDir = "/"
	}
	if opts.Output == "" {
		opts.Output = os.DevNull
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	return &Context{lock: lock, opts: opts}
}

// IsDaemon reports whether this process was started by Open.
func IsDaemon() bool {
	return os.Getenv(EnvDaemon) == "1"
}

// PreserveFiles adds files that must stay open across detachment.
func (c *Context) PreserveFiles(files ...*os.File) {
	c.preserved = MergeFiles(c.preserved, files)
}

// PreservedFiles returns the files that will be passed to the daemon.
func (c *Context) PreservedFiles() []*os.File {
	return append([]*os.File(nil), c.preserved...)
}

// Open detaches. In the launching process it returns once the daemon holds
// the lock, with Detached set. In the daemon it acquires the lock and
// returns with Detached unset.
func (c *Context) Open(ctx context.Context) (Result, error) {
	if IsDaemon() {
		return c.enter(ctx)
	}
	return c.spawn(ctx)
}

// Close releases the lock held by the daemon.
func (c *Context) Close() error {
	return c.lock.Release()
}

func (c *Context) enter(ctx context.Context) (Result, error) {
	loadInherited()
	os.Unsetenv(EnvDaemon)
	os.Unsetenv(EnvPreserved)

	if c.opts.Umask >= 0 {
		unix.Umask(c.opts.Umask)
	}
	if err := os.Chdir(c.opts.WorkDir); err != nil {
		return Result{}, drerrors.Wrapf(err, "failed to change to working directory %s", c.opts.WorkDir)
	}
	if err := c.lock.Acquire(ctx, c.lock.Timeout()); err != nil {
		return Result{}, err
	}
	return Result{PID: os.Getpid()}, nil
}

func (c *Context) spawn(ctx context.Context) (Result, error) {
	binary := c.opts.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return Result{}, drerrors.Wrap(err, "failed to locate executable")
		}
		binary = exe
	}
	args := c.opts.Args
	if args == nil {
		args = os.Args[1:]
	}
	env := c.opts.Env
	if env == nil {
		env = os.Environ()
	}

	if c.opts.Output != os.DevNull {
		if err := os.MkdirAll(filepath.Dir(c.opts.Output), 0700); err != nil {
			return Result{}, drerrors.Wrap(err, "failed to create output directory")
		}
	}
	output, err := os.OpenFile(c.opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return Result{}, drerrors.Wrap(err, "failed to open output file")
	}
	defer output.Close()

	cmd := exec.Command(binary, args...)
	cmd.Env = append(withoutMarkers(env), EnvDaemon+"=1")
	if len(c.preserved) > 0 {
		cmd.ExtraFiles = c.preserved
		cmd.Env = append(cmd.Env, EnvPreserved+"="+encodePreserved(c.preserved))
	}
	cmd.Stdin = nil
	cmd.Stdout = output
	cmd.Stderr = output
	// New session, fully detached from the controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Result{}, drerrors.Wrap(err, "failed to start daemon")
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if err := c.waitReady(ctx, pid, exited); err != nil {
		return Result{}, err
	}
	return Result{Detached: true, PID: pid}, nil
}

func (c *Context) waitReady(ctx context.Context, pid int, exited <-chan error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		if recorded, ok := c.lock.ReadPID(); ok && recorded == pid {
			return nil
		}
		select {
		case err := <-exited:
			if err == nil {
				err = drerrors.New("exit status 0")
			}
			return drerrors.Wrapf(err, "daemon %d exited before acquiring %s (output: %s)", pid, c.lock.Path(), c.opts.Output)
		case <-ctx.Done():
			reap(pid, exited)
			return drerrors.Wrapf(ctx.Err(), "daemon %d did not acquire %s within %v and was terminated", pid, c.lock.Path(), c.opts.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

// reap terminates a daemon that never became ready and collects its exit
// status. SIGTERM lets it give up a pending lock wait; SIGKILL follows if it
// lingers.
func reap(pid int, exited <-chan error) {
	unix.Kill(pid, unix.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(reapGrace):
	}
	unix.Kill(pid, unix.SIGKILL)
	<-exited
}

func withoutMarkers(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvDaemon+"=") || strings.HasPrefix(kv, EnvPreserved+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// MergeFiles appends files not already present, comparing descriptors.
// Standard streams are skipped since the daemon replaces them.
func MergeFiles(dst, files []*os.File) []*os.File {
	seen := make(map[uintptr]bool, len(dst))
	for _, f := range dst {
		seen[f.Fd()] = true
	}
	for _, f := range files {
		if f == nil || f.Fd() <= 2 || seen[f.Fd()] {
			continue
		}
		seen[f.Fd()] = true
		dst = append(dst, f)
	}
	return dst
}
