package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis constructs a Redis backed Locker shared across service replicas.
// Locks expire after ttl so a crashed holder cannot block a workload forever.
func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (Locker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &redisLocker{
		client:  client,
		logger:  logger,
		prefix:  "autodeployhub:lock:",
		ttl:     ttl,
		timeout: 2 * time.Second,
	}, nil
}

func (l *redisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Error("redis lock release failed", "key", key, "error", err)
		}
	}, nil
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}
