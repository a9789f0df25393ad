// Package lock wraps gofrs/flock for advisory per-path locking: a
// "<path>.lock" sibling serializes concurrent writers of the same
// manifest or result file, while readers never lock at all.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// FileLock guards one on-disk path ("<target>.lock") with an
// exclusive advisory lock.
type FileLock struct {
	fl *flock.Flock
}

// New returns a FileLock for target's companion ".lock" file. The lock
// file itself is created lazily on first Lock call.
func New(target string) *FileLock {
	return &FileLock{fl: flock.New(target + ".lock")}
}

// Lock blocks (up to timeout) until the exclusive lock is acquired.
func Lock(target string, timeout time.Duration) (*FileLock, error) {
	l := New(target)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock: %s: %w", target, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock: timed out waiting for %s", target)
	}
	return l, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.fl.Unlock()
}
