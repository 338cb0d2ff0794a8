package types

type TicketState string

const (
	TicketAvailable TicketState = "available"
	TicketPending   TicketState = "pending"
	TicketSoldOut   TicketState = "sold_out"
	TicketUnknown   TicketState = "unknown"
)

// AvailabilityInfo is one screening's entry in the external status feed. It is re-fetched on every
// poll and never persisted on its own.
type AvailabilityInfo struct {
	ScreeningID string      `json:"ext_id_screening"`
	State       TicketState `json:"state"`
	URL         *string     `json:"url,omitempty"`
	Text        string      `json:"text,omitempty"`
}

func (a AvailabilityInfo) IsAvailable() bool {
	return a.State == TicketAvailable
}

// AttemptResult is the outcome of one purchase attempt or a whole grab job.
type AttemptResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
