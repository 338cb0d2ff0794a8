package types

import (
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
)

type EventType string

const (
	EventTaskUpdate   EventType = "task_update"
	EventMonitorAlert EventType = "monitor_alert"
	EventTaskDeleted  EventType = "task_deleted"
)

// TaskEvent is what observers receive after a task mutation has been persisted.
type TaskEvent struct {
	Type    EventType        `json:"type"`
	TaskID  string           `json:"task_id"`
	Status  state.TaskStatus `json:"status"`
	Message string           `json:"message"`
	Task    *Task            `json:"task,omitempty"`
	At      time.Time        `json:"at"`
}
