package lock

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDistributedLockManager_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mgr := NewPostgresDistributedLockManager(db)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, mgr.Acquire(ctx, 1))
	require.NoError(t, mgr.Release(ctx, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDistributedLockManager_Acquire_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mgr := NewPostgresDistributedLockManager(db)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(42).
		WillReturnError(sql.ErrConnDone)

	err = mgr.Acquire(context.Background(), 42)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDistributedLockManager_Release_NotHeld(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewPostgresDistributedLockManager(db).Release(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestPostgresDistributedLockManager_Release_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mgr := NewPostgresDistributedLockManager(db)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(99).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(99).
		WillReturnError(sql.ErrConnDone)

	ctx := context.Background()
	require.NoError(t, mgr.Acquire(ctx, 99))
	err = mgr.Release(ctx, 99)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to release lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	mgr := NewLocalLockManager()
	boom := errors.New("boom")

	err := WithLock(context.Background(), mgr, 5, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// released, so a second acquisition must not block
	require.NoError(t, mgr.Acquire(context.Background(), 5))
	require.NoError(t, mgr.Release(context.Background(), 5))
}
