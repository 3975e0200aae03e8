package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Policy controls how FetchJSON uses a backend.
type Policy struct {
	TTL      time.Duration
	MaxStale time.Duration
	// Bypass skips the read but still writes fresh results.
	Bypass bool
}

// FetchJSON serves key from backend when fresh, otherwise calls fetch and
// stores the result. When fetch fails and a stale entry within MaxStale
// exists, the stale entry is decoded instead.
func FetchJSON[T any](ctx context.Context, backend Backend, log *zap.Logger, key string, policy Policy, fetch func(context.Context) (T, error)) (T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var zero T
	if backend == nil {
		return fetch(ctx)
	}
	var cached Result
	if !policy.Bypass {
		res, err := backend.Get(ctx, key, policy.MaxStale)
		if err != nil {
			log.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		} else {
			cached = res
		}
		if cached.Hit && !cached.Stale {
			var out T
			if err := json.Unmarshal(cached.Value, &out); err == nil {
				return out, nil
			}
		}
	}

	fresh, err := fetch(ctx)
	if err != nil {
		if cached.Hit && !cached.TooStale {
			var out T
			if decodeErr := json.Unmarshal(cached.Value, &out); decodeErr == nil {
				log.Warn("serving stale cache entry", zap.String("key", key), zap.Duration("age", cached.Age), zap.Error(err))
				return out, nil
			}
		}
		return zero, err
	}
	if raw, err := json.Marshal(fresh); err == nil {
		if err := backend.Set(ctx, key, raw, policy.TTL); err != nil {
			log.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return fresh, nil
}
