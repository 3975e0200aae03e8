package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a shared backend for deployments where several processes resolve
// positions for the same accounts.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type redisEntry struct {
	Body       []byte `json:"body"`
	FetchedAt  int64  `json:"fetched_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func NewRedis(addr, prefix string) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "defiact:"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("redis read: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Result{}, fmt.Errorf("redis decode: %w", err)
	}
	return newResult(entry.Body, time.Unix(entry.FetchedAt, 0).UTC(), time.Duration(entry.TTLSeconds)*time.Second, maxStale, r.now()), nil
}

// Set keeps the key alive for ttl plus a stale window equal to ttl so that
// stale reads remain possible after the freshness window.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	raw, err := json.Marshal(redisEntry{Body: value, FetchedAt: r.now().UTC().Unix(), TTLSeconds: ttlSeconds})
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, 2*time.Duration(ttlSeconds)*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
