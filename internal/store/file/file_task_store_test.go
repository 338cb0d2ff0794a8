package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTasks() []types.Task {
	now := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	return []types.Task{
		{
			ID:            "a1b2c3d4",
			FilmID:        63,
			FilmTitle:     "Opening Night",
			ScreeningID:   "63-20260216-1000",
			Venue:         "Berlinale Palast",
			ScreeningTime: "2026-02-16T10:00:00+01:00",
			SaleTime:      "2026-02-13T10:00:00+01:00",
			PurchaseURL:   types.StringPtr("https://example/checkout"),
			Mode:          types.ModeDirect,
			TicketCount:   2,
			Status:        state.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:          "e5f6a7b8",
			ScreeningID: "64-20260217-2030",
			Mode:        types.ModeBrowser,
			TicketCount: 1,
			Status:      state.StatusWatching,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

func TestFileTaskStore_LoadMissingFile(t *testing.T) {
	s, err := NewFileTaskStore(filepath.Join(t.TempDir(), "data", "tasks.json"))
	require.NoError(t, err)

	tasks, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestFileTaskStore_SaveThenLoadKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewFileTaskStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleTasks()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1b2c3d4", got[0].ID)
	assert.Equal(t, "e5f6a7b8", got[1].ID)
	assert.Equal(t, "https://example/checkout", got[0].URL())
	assert.Nil(t, got[1].PurchaseURL)
}

func TestFileTaskStore_RecordSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewFileTaskStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleTasks()[:1]))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)

	for _, key := range []string{
		"id", "film_id", "film_title", "ext_id_screening", "venue", "screening_time", "sale_time",
		"purchase_url", "mode", "ticket_count", "status", "result_message", "created_at", "updated_at",
	} {
		assert.Contains(t, records[0], key)
	}
	assert.Len(t, records[0], 14)
}

func TestFileTaskStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewFileTaskStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleTasks()))
	require.NoError(t, s.Save(ctx, nil))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileTaskStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s, err := NewFileTaskStore(path)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse JSON")
}
