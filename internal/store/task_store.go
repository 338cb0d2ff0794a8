package store

import (
	"context"

	"github.com/RezaEskandarii/ticketfire/types"
)

// TaskStore persists the complete task list. Save overwrites whatever was stored before, so callers
// always pass every task, in registry order.
type TaskStore interface {
	// Load returns the stored tasks in the order they were saved. A store that was never written
	// returns an empty slice.
	Load(ctx context.Context) ([]types.Task, error)

	Save(ctx context.Context, tasks []types.Task) error

	// Close releases the underlying connection or file handle.
	Close() error
}
