// Package lockfile enforces the daemon's single-instance invariant via an
// OS-exclusive file lock guaranteeing a single running daemon instance.
package lockfile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// Lock wraps an acquired exclusive lock on a daemon.lock file whose
// contents are the holder's PID (informational only).
type Lock struct {
	fl   *flock.Flock
	path string
}

// ErrHeld is returned by Acquire when another live process already holds
// the lock.
var ErrHeld = fmt.Errorf("daemon.lock is held by another instance")

// Acquire attempts to take the exclusive lock at path, writing the current
// PID into the file on success. It never blocks waiting for the lock — a
// held lock is reported immediately as ErrHeld so the caller can exit with
// a distinct "already running" status instead of hanging.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrHeld
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("write lock pid: %w", err)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Release removes the lock file and unlocks it. It is safe to call multiple
// times and is called from every daemon exit path, including panics (via
// defer).
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if l.fl.Locked() {
		os.Remove(l.path)
	}
	return l.fl.Unlock()
}
