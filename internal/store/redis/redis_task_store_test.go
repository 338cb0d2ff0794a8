package redis

import (
	"context"
	"testing"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*RedisTaskStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisTaskStore(client, "ticketfire:tasks").(*RedisTaskStore)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisTaskStore_LoadEmpty(t *testing.T) {
	s, _ := newStore(t)
	tasks, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisTaskStore_SaveLoad(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tasks := []types.Task{
		{ID: "t1", ScreeningID: "63-20260216-1000", Mode: types.ModeDirect, TicketCount: 2,
			Status: state.StatusPending, PurchaseURL: types.StringPtr("https://example/checkout"),
			CreatedAt: now, UpdatedAt: now},
		{ID: "t2", ScreeningID: "64-20260217-2030", Mode: types.ModeBrowser, TicketCount: 1,
			Status: state.StatusWatching, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.Save(ctx, tasks))

	list, err := mr.List("ticketfire:tasks")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "https://example/checkout", got[0].URL())
	assert.True(t, now.Equal(got[0].CreatedAt))
	assert.Equal(t, state.StatusWatching, got[1].Status)
}

func TestRedisTaskStore_SaveReplaces(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []types.Task{{ID: "t1"}, {ID: "t2"}}))
	require.NoError(t, s.Save(ctx, []types.Task{{ID: "t2"}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)

	require.NoError(t, s.Save(ctx, nil))
	assert.False(t, mr.Exists("ticketfire:tasks"))
}

func TestRedisTaskStore_CorruptRecord(t *testing.T) {
	s, mr := newStore(t)
	_, err := mr.Push("ticketfire:tasks", "not-json")
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	assert.ErrorContains(t, err, "decode task record 0")
}
