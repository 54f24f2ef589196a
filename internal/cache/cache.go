// Package cache provides the read-through key/value cache used beneath the
// sync core's initial-load and profile lookup paths. Values are opaque bytes;
// keys are namespaced per room/user so nothing leaks across rooms.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skillmesh/chatsync/internal/metrics"
)

// ErrMiss signals a cache miss (absent or expired key) in a typed way so
// callers can tell misses apart from transport errors.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }

// Store is the minimal contract for a key-value cache with per-key TTL.
// Implementations must be concurrency-safe. A Get after stored_at+ttl must
// return ErrMiss, never the stale value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Loader produces the authoritative value for a key on miss or expiry.
// Loaders are idempotent reads; concurrent calls for the same missing key may
// both invoke the loader (stampede is tolerated, not prevented).
type Loader func(ctx context.Context) ([]byte, error)

// GetWithFallback returns the cached value if fresh, otherwise invokes loader,
// stores the result with the given TTL and returns it. A loader failure is
// propagated and leaves any existing entry untouched, so a transient source
// error never poisons the cache.
func GetWithFallback(ctx context.Context, s Store, key string, loader Loader, ttl time.Duration) ([]byte, error) {
	if v, err := s.Get(ctx, key); err == nil {
		metrics.CacheHits.Inc()
		return v, nil
	} else if err != ErrMiss {
		return nil, err
	}
	metrics.CacheMisses.Inc()

	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	// The store is a cache, not the source of truth: a failed Set must not
	// withhold a value the loader already produced.
	_ = s.Set(ctx, key, v, ttl)
	return v, nil
}

// GetJSONWithFallback is GetWithFallback for JSON-encoded values.
func GetJSONWithFallback[T any](ctx context.Context, s Store, key string, loader func(ctx context.Context) (T, error), ttl time.Duration) (T, error) {
	var zero T
	raw, err := GetWithFallback(ctx, s, key, func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, ttl)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// RoomMessagesKey returns the cache key for a room's recent message page.
func RoomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// ProfileKey returns the cache key for a user's profile.
func ProfileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

// PresenceKey returns the cache key for a user's last known presence.
func PresenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}
