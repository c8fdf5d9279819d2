// Package cache defines the shared key-value cache the auth core depends on.
// The durable store (Redis-class) and the short-lived in-process layer in
// front of the rate limiter both satisfy the same interface, so components
// are wired with whichever tier fits their tolerance for staleness.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers on the rate-limit path treat it as fail-open; callers on the
// resolution path skip caching and fall through to the credential store.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is the set of primitives the core needs. Every mutation is a single
// atomic operation against the backing store; there are no multi-step
// transactions.
type Cache interface {
	// Get returns the value for key. The second return is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// IncrBy atomically adds delta to the counter at key and returns the new
	// value. The ttl is applied only when the counter is created.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// SAdd adds members to the set at key. The ttl is applied only when the
	// set is created.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// SMembers returns the members of the set at key. The second return is
	// false when the set is absent or expired.
	SMembers(ctx context.Context, key string) ([]string, bool, error)
}
