package types

import (
	"fmt"
	"time"
)

type JobKind string

const (
	JobWarmup JobKind = "warmup"
	JobGrab   JobKind = "grab"
)

// AllJobKinds lists every variant a task can have armed. Cancellation walks this list.
var AllJobKinds = []JobKind{JobWarmup, JobGrab}

type ScheduledJob struct {
	TaskID string    `json:"task_id"`
	Kind   JobKind   `json:"kind"`
	FireAt time.Time `json:"fire_at"`
}

// Key is the idempotency key of the job. Arming a job with an existing key replaces it.
func (j ScheduledJob) Key() string {
	return JobKey(j.Kind, j.TaskID)
}

func JobKey(kind JobKind, taskID string) string {
	return fmt.Sprintf("%s_%s", kind, taskID)
}
