package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes a key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance pointing at the same Redis.
// Each key is a SET NX PX entry holding a per-acquisition token; the TTL bounds how long
// a crashed holder can block others.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	log          logrus.FieldLogger
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient, ttl, pollInterval time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client:       client,
		prefix:       "lock:",
		ttl:          ttl,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Dial parses a redis:// URL, pings the server and returns a locker over it.
func Dial(ctx context.Context, url string, ttl, pollInterval time.Duration, log logrus.FieldLogger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisLocker(client, ttl, pollInterval, log), nil
}

// Acquire takes every key, polling until ctx ends. On failure nothing stays held.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	release := func() {
		// Release must work even when the caller's context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, k := range held {
			l.releaseKey(rctx, k, token)
		}
		held = held[:0]
	}

	for _, key := range normalizeKeys(keys) {
		k := l.prefix + key
		if err := l.acquireOne(ctx, k, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// releaseKey drops key if it still holds token. A key left behind blocks other
// holders until its TTL runs out, so every failure is logged.
func (l *RedisLocker) releaseKey(ctx context.Context, key, token string) {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"key": key,
			"ttl": l.ttl,
		}).Warn("Failed to release lock, it stays held until its TTL expires")
		return
	}
	if n == 0 {
		l.log.WithField("key", key).Warn("Lock expired before release")
	}
}

func (l *RedisLocker) acquireOne(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrNotAcquired
			}
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrNotAcquired
		case <-ticker.C:
		}
	}
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
