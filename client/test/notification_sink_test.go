package test

import (
	"context"
	"errors"
	"testing"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/client/test/mocks"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationSink_NotifyPersistsBeforePublishing(t *testing.T) {
	store := &mocks.MockTaskStore{}
	var savedFirst bool
	pub := &mocks.MockPublisher{PublishFunc: func(ctx context.Context, event types.TaskEvent) error {
		savedFirst = store.Saves() == 1
		return nil
	}}
	sink := client.NewNotificationSink(store, nil, pub)

	err := sink.Notify(context.Background(), []types.Task{{ID: "a"}}, types.TaskEvent{Type: types.EventTaskUpdate, TaskID: "a"})
	require.NoError(t, err)
	assert.True(t, savedFirst)
	assert.Len(t, pub.Events(), 1)
}

func TestNotificationSink_PersistErrorSkipsPublish(t *testing.T) {
	store := &mocks.MockTaskStore{SaveFunc: func(ctx context.Context, tasks []types.Task) error {
		return errors.New("boom")
	}}
	pub := &mocks.MockPublisher{}
	sink := client.NewNotificationSink(store, nil, pub)

	err := sink.Notify(context.Background(), nil, types.TaskEvent{TaskID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist tasks")
	assert.Empty(t, pub.Events())
}

func TestNotificationSink_PublisherFailuresAreIsolated(t *testing.T) {
	failing := &mocks.MockPublisher{PublishFunc: func(ctx context.Context, event types.TaskEvent) error {
		return errors.New("broker down")
	}}
	panicking := &mocks.MockPublisher{PublishFunc: func(ctx context.Context, event types.TaskEvent) error {
		panic("closed channel")
	}}
	healthy := &mocks.MockPublisher{}
	sink := client.NewNotificationSink(&mocks.MockTaskStore{}, nil, failing, panicking, healthy)

	err := sink.Notify(context.Background(), nil, types.TaskEvent{TaskID: "a"})
	require.NoError(t, err)
	assert.Len(t, failing.Events(), 1)
	assert.Len(t, panicking.Events(), 1)
	assert.Len(t, healthy.Events(), 1)
}

func TestNotificationSink_PublishDoesNotPersist(t *testing.T) {
	store := &mocks.MockTaskStore{}
	pub := &mocks.MockPublisher{}
	sink := client.NewNotificationSink(store, nil, pub)

	sink.Publish(context.Background(), types.TaskEvent{Type: types.EventMonitorAlert})
	assert.Zero(t, store.Saves())
	assert.Len(t, pub.EventsOfType(types.EventMonitorAlert), 1)
}

func TestNotificationSink_CloseJoinsErrors(t *testing.T) {
	store := &mocks.MockTaskStore{CloseFunc: func() error { return errors.New("store close") }}
	pub := &mocks.MockPublisher{CloseFunc: func() error { return errors.New("publisher close") }}
	sink := client.NewNotificationSink(store, nil, pub)

	err := sink.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store close")
	assert.Contains(t, err.Error(), "publisher close")
}
