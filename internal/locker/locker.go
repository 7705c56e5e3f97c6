// Package locker serializes mutating operations on one workspace.
//
// Apply, freeze, and undo all mutate manifests and state files; two devlink
// processes doing so concurrently would corrupt the journal and lock file.
// An advisory file lock at .kb/devlink/.lock is held for the duration of
// every mutating operation. The lock is an OS-level flock, so it is released
// automatically if the holding process dies.
package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockHeld is returned when the advisory lock could not be acquired
// within the configured wait window.
var ErrLockHeld = errors.New("another devlink operation is in progress")

// DefaultWait bounds how long Acquire retries before giving up.
const DefaultWait = 5 * time.Second

// retryDelay is the polling interval between lock attempts.
const retryDelay = 100 * time.Millisecond

// AdvisoryLock guards a workspace's mutating operations.
type AdvisoryLock struct {
	path string
	wait time.Duration
	lock *flock.Flock
}

// New creates a lock at path. wait <= 0 selects DefaultWait.
func New(path string, wait time.Duration) *AdvisoryLock {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &AdvisoryLock{path: path, wait: wait}
}

// Acquire takes the lock, retrying until the wait window or ctx expires.
func (l *AdvisoryLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	l.lock = flock.New(l.path)

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	locked, err := l.lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w (lock file: %s)", ErrLockHeld, l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock file: %s)", ErrLockHeld, l.path)
	}
	return nil
}

// Release drops the lock. Safe to call when Acquire failed.
func (l *AdvisoryLock) Release() error {
	if l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
