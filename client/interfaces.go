package client

import (
	"context"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
)

// StatusFunc receives progress reports from a purchase attempt. It is always non-nil; use NoopStatus
// when nobody listens.
type StatusFunc func(status state.TaskStatus, message string)

func NoopStatus(state.TaskStatus, string) {}

// Purchaser performs one purchase attempt. A retry after a failed attempt must not duplicate a
// purchase that already completed. Timeouts and transport failures are reported as an unsuccessful
// result, never as a panic.
type Purchaser interface {
	Attempt(ctx context.Context, task types.Task, report StatusFunc) types.AttemptResult
}

// PageHandle is an opaque pre-opened purchase page owned by the Preheater that returned it.
type PageHandle interface {
	Close() error
}

// Preheater is the optional warm-up capability of a Purchaser. Preheat opens the purchase page ahead
// of the sale; AttemptWithHandle refreshes that page and buys from it instead of navigating cold.
type Preheater interface {
	Preheat(ctx context.Context, task types.Task) (PageHandle, error)
	AttemptWithHandle(ctx context.Context, handle PageHandle, task types.Task, report StatusFunc) types.AttemptResult
}

// AvailabilityFeed returns the current ticket state of every screening. Transient failures yield an
// empty map.
type AvailabilityFeed interface {
	FetchStatus(ctx context.Context) map[string]types.AvailabilityInfo
}

// Clock is the wall clock used for every schedule computation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the local clock without correction.
var SystemClock Clock = systemClock{}
