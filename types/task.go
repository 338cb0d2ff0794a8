package types

import (
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
)

type PurchaseMode string

const (
	ModeDirect  PurchaseMode = "direct"
	ModeBrowser PurchaseMode = "browser"
)

func (m PurchaseMode) IsValid() bool {
	return m == ModeDirect || m == ModeBrowser
}

// Task is a single purchase request for one screening. It is the only durable record: the persisted
// task file holds one Task per entry with exactly these fields.
type Task struct {
	ID            string           `json:"id"`
	FilmID        int              `json:"film_id"`
	FilmTitle     string           `json:"film_title"`
	ScreeningID   string           `json:"ext_id_screening"`
	Venue         string           `json:"venue"`
	ScreeningTime string           `json:"screening_time"`
	SaleTime      string           `json:"sale_time"`
	PurchaseURL   *string          `json:"purchase_url"`
	Mode          PurchaseMode     `json:"mode"`
	TicketCount   int              `json:"ticket_count"`
	Status        state.TaskStatus `json:"status"`
	ResultMessage *string          `json:"result_message"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TaskSpec carries the caller supplied attributes of a new Task.
type TaskSpec struct {
	FilmID        int          `json:"film_id"`
	FilmTitle     string       `json:"film_title"`
	ScreeningID   string       `json:"ext_id_screening"`
	Venue         string       `json:"venue"`
	ScreeningTime string       `json:"screening_time"`
	SaleTime      string       `json:"sale_time"`
	PurchaseURL   *string      `json:"purchase_url"`
	Mode          PurchaseMode `json:"mode"`
	TicketCount   int          `json:"ticket_count"`
}

// HasPurchaseURL reports whether the task is schedulable without waiting on the availability feed.
func (t Task) HasPurchaseURL() bool {
	return t.PurchaseURL != nil && *t.PurchaseURL != ""
}

func (t Task) URL() string {
	if t.PurchaseURL == nil {
		return ""
	}
	return *t.PurchaseURL
}

func (t Task) Message() string {
	if t.ResultMessage == nil {
		return ""
	}
	return *t.ResultMessage
}

// ParseSaleTime returns the sale instant. An empty sale time yields ok=false and a nil error.
func (t Task) ParseSaleTime() (time.Time, bool, error) {
	return parseInstant(t.SaleTime)
}

func (t Task) ParseScreeningTime() (time.Time, bool, error) {
	return parseInstant(t.ScreeningTime)
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	out := t
	if t.PurchaseURL != nil {
		u := *t.PurchaseURL
		out.PurchaseURL = &u
	}
	if t.ResultMessage != nil {
		m := *t.ResultMessage
		out.ResultMessage = &m
	}
	return out
}

func parseInstant(value string) (time.Time, bool, error) {
	if value == "" {
		return time.Time{}, false, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

// DefaultSaleTime is the usual opening of a screening's sale: advanceDays calendar days before the
// screening date, at hour:00 local time in loc.
func DefaultSaleTime(screening time.Time, loc *time.Location, advanceDays, hour int) time.Time {
	local := screening.In(loc)
	day := local.AddDate(0, 0, -advanceDays)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
}

func StringPtr(s string) *string {
	return &s
}
