package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLockManager implements the lock with SET NX and a per-holder token. The key expires after ttl
// so a crashed holder cannot block other instances forever.
type RedisLockManager struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryEvery time.Duration

	mu     sync.Mutex
	tokens map[int]string
}

func NewRedisLockManager(client *redis.Client, prefix string, ttl time.Duration) *RedisLockManager {
	return &RedisLockManager{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		retryEvery: 50 * time.Millisecond,
		tokens:     make(map[int]string),
	}
}

func (l *RedisLockManager) key(lockID int) string {
	return l.prefix + ":lock:" + strconv.Itoa(lockID)
}

func (l *RedisLockManager) Acquire(ctx context.Context, lockID int) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	token := uuid.NewString()
	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, l.key(lockID), token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			l.mu.Lock()
			l.tokens[lockID] = token
			l.mu.Unlock()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to acquire lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	token, ok := l.tokens[lockID]
	delete(l.tokens, lockID)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrNotHeld)
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(lockID)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
