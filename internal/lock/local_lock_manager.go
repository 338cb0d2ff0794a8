package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LocalLockManager is used by single-instance deployments backed by the file store.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[int]*semaphore.Weighted
	held  map[int]bool
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{
		locks: make(map[int]*semaphore.Weighted),
		held:  make(map[int]bool),
	}
}

func (l *LocalLockManager) sem(lockID int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.locks[lockID]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.locks[lockID] = s
	}
	return s
}

func (l *LocalLockManager) Acquire(ctx context.Context, lockID int) error {
	if err := l.sem(lockID).Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.mu.Lock()
	l.held[lockID] = true
	l.mu.Unlock()
	return nil
}

func (l *LocalLockManager) Release(_ context.Context, lockID int) error {
	l.mu.Lock()
	if !l.held[lockID] {
		l.mu.Unlock()
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrNotHeld)
	}
	delete(l.held, lockID)
	s := l.locks[lockID]
	l.mu.Unlock()
	s.Release(1)
	return nil
}
