package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// CycleLock guards one full fetch→diff→publish cycle so two overlapping
// orchestrator invocations (e.g. overlapping cron runs) never interleave
// writes across the feed/fleet-state file set.
type CycleLock struct {
	fl *flock.Flock
}

// AcquireCycleLock blocks up to timeout waiting for the advisory lock at
// path, retrying on a short interval.
func AcquireCycleLock(ctx context.Context, path string, timeout time.Duration) (*CycleLock, error) {
	fl := flock.New(path)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("publish: acquire cycle lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("publish: cycle lock %s held by another process", path)
	}
	return &CycleLock{fl: fl}, nil
}

// Release drops the lock. Safe to call once; a second call is a no-op.
func (l *CycleLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
