package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/RezaEskandarii/ticketfire/internal/constants"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/message_broaker"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/store"
	"github.com/RezaEskandarii/ticketfire/types"
	"go.uber.org/zap"
)

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// Sanitize strips ANSI escape sequences and control characters other than tab, newline and carriage
// return, then bounds the length of the message.
func Sanitize(msg string) string {
	msg = ansiSequence.ReplaceAllString(msg, "")
	msg = controlChars.ReplaceAllString(msg, "")
	msg = strings.ToValidUTF8(msg, "")
	if utf8.RuneCountInString(msg) > constants.MaxResultMessageLength {
		runes := []rune(msg)
		msg = string(runes[:constants.MaxResultMessageLength-1]) + "…"
	}
	return msg
}

// NotificationSink persists every task mutation and then fans the event out. Persistence errors are
// returned to the caller; publisher errors are only logged.
type NotificationSink struct {
	store      store.TaskStore
	publishers []message_broaker.Publisher
	logger     *zap.Logger
}

func NewNotificationSink(taskStore store.TaskStore, logger *zap.Logger, publishers ...message_broaker.Publisher) *NotificationSink {
	return &NotificationSink{
		store:      taskStore,
		publishers: publishers,
		logger:     logging.OrNop(logger),
	}
}

// Notify saves tasks, the complete current task list, and publishes event once the save succeeded.
func (n *NotificationSink) Notify(ctx context.Context, tasks []types.Task, event types.TaskEvent) error {
	if err := n.store.Save(ctx, tasks); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	n.Publish(ctx, event)
	return nil
}

// Publish fans event out without touching the store. Used for events that carry no mutation.
func (n *NotificationSink) Publish(ctx context.Context, event types.TaskEvent) {
	for _, p := range n.publishers {
		n.publishOne(ctx, p, event)
	}
}

func (n *NotificationSink) publishOne(ctx context.Context, p message_broaker.Publisher, event types.TaskEvent) {
	name := fmt.Sprintf("%T", p)
	defer func() {
		if r := recover(); r != nil {
			observability.BroadcastFailuresTotal.WithLabelValues(name).Inc()
			n.logger.Error("publisher panicked",
				zap.String("publisher", name),
				zap.String("task_id", event.TaskID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := p.Publish(ctx, event); err != nil {
		observability.BroadcastFailuresTotal.WithLabelValues(name).Inc()
		n.logger.Warn("publish failed",
			zap.String("publisher", name),
			zap.String("task_id", event.TaskID),
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Close releases every publisher and the store.
func (n *NotificationSink) Close() error {
	var errs []error
	for _, p := range n.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
