// Package flock provides advisory file locks that are shared between
// processes, with a bounded wait.
package flock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Mode int

const (
	// Shared locks may be held by any number of readers at once.
	Shared Mode = iota
	// Exclusive locks exclude every other holder, shared or exclusive.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ErrTimeout is returned by Acquire when the lock is still held by somebody
// else once the timeout has passed.
var ErrTimeout = errors.New("timed out waiting for lock")

// PollInterval is how often Acquire retries a busy lock.
var PollInterval = 100 * time.Millisecond

type Lock struct {
	path string
	mode Mode

	mu sync.Mutex
	f  *os.File
}

// Acquire locks path, creating the file if needed. It waits at most timeout
// for a conflicting holder to go away; a zero timeout tries exactly once.
func Acquire(ctx context.Context, path string, mode Mode, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create lock dir")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", path)
	}

	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return &Lock{path: path, mode: mode, f: f}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			f.Close()
			return nil, errors.Wrapf(err, "flock %s", path)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			f.Close()
			return nil, errors.Wrapf(ErrTimeout, "%s lock on %s after %s", mode, path, timeout)
		}
		if wait > PollInterval {
			wait = PollInterval
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) Mode() Mode {
	return l.mode
}

// Release unlocks and closes the lock file. Calling it more than once is a
// no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return errors.Wrapf(err, "unlock %s", l.path)
	}
	return f.Close()
}
