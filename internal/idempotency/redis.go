package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmdable is the subset of redis.Cmdable used by Redis.
type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis is a Store shared by every hub instance.
type Redis struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Store on client. Keys are stored as prefix+key.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "eventhub:idempotency:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, key, eventID string) (string, bool, error) {
	k := r.prefix + key
	// A key can expire between SETNX and GET; one more round settles it.
	for range 2 {
		ok, err := r.client.SetNX(ctx, k, eventID, r.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("idempotency: claim %s: %w", key, err)
		}
		if ok {
			return eventID, true, nil
		}
		bound, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("idempotency: read %s: %w", key, err)
		}
		return bound, false, nil
	}
	return "", false, fmt.Errorf("idempotency: claim %s: key churned", key)
}

// Completion is stored under its own key holding the event id, so a stale
// marker from an expired binding never matches a new one.
func (r *Redis) doneKey(key string) string { return r.prefix + key + ":done" }

func (r *Redis) Complete(ctx context.Context, key, eventID string) error {
	if err := r.client.Set(ctx, r.doneKey(key), eventID, r.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Completed(ctx context.Context, key, eventID string) (bool, error) {
	done, err := r.client.Get(ctx, r.doneKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency: read completion %s: %w", key, err)
	}
	return done == eventID, nil
}
