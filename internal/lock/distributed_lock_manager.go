package lock

import (
	"context"
	"errors"
)

var ErrNotHeld = errors.New("lock not held")

// DistributedLockManager serializes sections that must run on one instance at a time, such as
// schema migration and restart recovery.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	Release(ctx context.Context, lockID int) error
}

// WithLock runs fn while holding lockID. The lock is released even when fn fails.
func WithLock(ctx context.Context, m DistributedLockManager, lockID int, fn func() error) (err error) {
	if err = m.Acquire(ctx, lockID); err != nil {
		return err
	}
	defer func() {
		if releaseErr := m.Release(context.WithoutCancel(ctx), lockID); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn()
}
