package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockFileName is the per-project exclusive advisory lock taken before
// any mutation: it blocks other processes and threads indexing the same
// project root.
const lockFileName = "index.write.lock"

// ProjectLock wraps the cross-process write lock for one project's
// .context directory: the same flock.TryLock pattern the daemon uses to
// arbitrate a single process per socket, applied to per-project write
// exclusivity.
type ProjectLock struct {
	fl *flock.Flock
}

// NewProjectLock returns a lock for contextDir/index.write.lock.
func NewProjectLock(contextDir string) *ProjectLock {
	return &ProjectLock{fl: flock.New(filepath.Join(contextDir, lockFileName))}
}

// Acquire blocks (polling at the given interval) until the lock is held
// or ctx is canceled.
func (l *ProjectLock) Acquire(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	locked, err := l.fl.TryLockContext(ctx, pollInterval)
	if err != nil {
		return fmt.Errorf("indexer: acquire write lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("indexer: could not acquire write lock")
	}
	return nil
}

// Release unlocks, swallowing a not-locked error since Release is always
// safe to call on all exit paths
func (l *ProjectLock) Release() error {
	if l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
