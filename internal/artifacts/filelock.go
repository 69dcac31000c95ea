package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates the lock acquisition timed out
var ErrLockTimeout = errors.New("lock acquisition timed out")

// lockRetryDelay is the polling interval while waiting for a held lock
const lockRetryDelay = 50 * time.Millisecond

// FileLock is an exclusive cross-process lock on a file.
// The lock is released by the OS when the holding process exits.
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock creates a lock at path. Parent directories are created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking.
// It returns false without an error when another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("flock failed: %w", err)
	}
	return ok, nil
}

// LockWithContext blocks until the lock is acquired, timeout expires
// (ErrLockTimeout) or ctx is done.
func (l *FileLock) LockWithContext(ctx context.Context, timeout time.Duration) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := l.lock.TryLockContext(lockCtx, lockRetryDelay)
	if ok {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return fmt.Errorf("flock failed: %w", err)
}

// Unlock releases the lock. Unlocking an unlocked FileLock is a no-op.
func (l *FileLock) Unlock() error {
	if !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	return nil
}

// IsLocked reports whether this instance holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.lock.Locked()
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.lock.Path()
}

func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
