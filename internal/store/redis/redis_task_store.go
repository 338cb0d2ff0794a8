package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RezaEskandarii/ticketfire/internal/store"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/redis/go-redis/v9"
)

// RedisTaskStore keeps one JSON record per task in a Redis list, in registry order.
type RedisTaskStore struct {
	client *redis.Client
	key    string
}

func NewRedisTaskStore(client *redis.Client, key string) store.TaskStore {
	return &RedisTaskStore{client: client, key: key}
}

func (s *RedisTaskStore) Load(ctx context.Context) ([]types.Task, error) {
	records, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks from %s: %w", s.key, err)
	}
	tasks := make([]types.Task, 0, len(records))
	for i, record := range records {
		var t types.Task
		if err := json.Unmarshal([]byte(record), &t); err != nil {
			return nil, fmt.Errorf("failed to decode task record %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Save replaces the list inside a MULTI/EXEC block so readers never see a partially written list.
func (s *RedisTaskStore) Save(ctx context.Context, tasks []types.Task) error {
	records := make([]any, 0, len(tasks))
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		records = append(records, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(records) > 0 {
			pipe.RPush(ctx, s.key, records...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tasks to %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}
