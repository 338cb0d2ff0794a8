package state

import (
	"errors"
	"fmt"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusWatching  TaskStatus = "watching"
	StatusGrabbing  TaskStatus = "grabbing"
	StatusSuccess   TaskStatus = "success"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// ErrInvalidTransition is returned when a requested status change is not an edge of ValidTransitions.
var ErrInvalidTransition = errors.New("invalid status transition")

func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the engine will never move a task out of s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s TaskStatus) IsKnown() bool {
	for _, status := range AllStatuses {
		if status == s {
			return true
		}
	}
	return false
}

var AllStatuses = []TaskStatus{
	StatusPending,
	StatusWatching,
	StatusGrabbing,
	StatusSuccess,
	StatusFailed,
	StatusCancelled,
}

type Transition struct {
	From TaskStatus
	To   TaskStatus
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusGrabbing},
	{From: StatusGrabbing, To: StatusSuccess},
	{From: StatusGrabbing, To: StatusFailed},
	{From: StatusPending, To: StatusWatching},
	{From: StatusWatching, To: StatusPending},
	{From: StatusPending, To: StatusCancelled},
	{From: StatusWatching, To: StatusCancelled},
	{From: StatusGrabbing, To: StatusCancelled},
}

func IsValidTransition(from, to TaskStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a wrapped ErrInvalidTransition naming both ends when from->to is illegal.
func CheckTransition(from, to TaskStatus) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
