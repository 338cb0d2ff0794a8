package message_broaker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() types.TaskEvent {
	return types.TaskEvent{
		Type:    types.EventTaskUpdate,
		TaskID:  "a1b2c3d4",
		Status:  state.StatusGrabbing,
		Message: "Attempt 1/4",
		At:      time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC),
	}
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeNATS struct {
	subject string
	data    []byte
	closed  bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeNATS) Close() { f.closed = true }

func TestPublisherImplementations(t *testing.T) {
	var _ Publisher = (*RabbitMQ)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
	var _ Publisher = (*Hub)(nil)
}

func TestRabbitMQ_Publish(t *testing.T) {
	ch := &fakeChannel{}
	r := &RabbitMQ{channel: ch, exchange: "ticketfire", routingKey: "task.event"}

	require.NoError(t, r.Publish(context.Background(), testEvent()))
	assert.Equal(t, "ticketfire", ch.exchange)
	assert.Equal(t, "task.event", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, "task_update", ch.msg.Type)

	var decoded types.TaskEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, "a1b2c3d4", decoded.TaskID)
	assert.Equal(t, state.StatusGrabbing, decoded.Status)

	require.NoError(t, r.Close())
	assert.True(t, ch.closed)
}

func TestRabbitMQ_Publish_Error(t *testing.T) {
	r := &RabbitMQ{channel: &fakeChannel{err: amqp.ErrClosed}}
	err := r.Publish(context.Background(), testEvent())
	assert.True(t, errors.Is(err, amqp.ErrClosed))
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeNATS{}
	p := &NATSPublisher{conn: conn, subject: "ticketfire.tasks"}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Equal(t, "ticketfire.tasks.task_update", conn.subject)
	assert.Contains(t, string(conn.data), `"task_id":"a1b2c3d4"`)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestNATSPublisher_Publish_CancelledContext(t *testing.T) {
	conn := &fakeNATS{}
	p := &NATSPublisher{conn: conn, subject: "ticketfire.tasks"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, testEvent()), context.Canceled)
	assert.Empty(t, conn.subject)
}
