// Package ratelimit enforces tiered, fixed-window request quotas keyed by
// identity class. Windows are aligned to wall-clock time so independent
// processes agree on bucket boundaries without coordination, and every
// counter mutation is one atomic increment against the shared cache.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"vidyahub.org/internal/cache"
)

// Class is the rate-limiting bucket category, chosen by strict precedence:
// authenticated user > phone > username > anonymous device fingerprint.
type Class string

const (
	ClassUser     Class = "user"
	ClassPhone    Class = "phone"
	ClassUsername Class = "username"
	ClassDevice   Class = "device"
)

// Quota is a per-class window length and request ceiling.
type Quota struct {
	Window time.Duration
	Max    int64
}

// DefaultQuotas returns the tier table. Phone and username buckets are tight
// because they guard unauthenticated login endpoints.
func DefaultQuotas() map[Class]Quota {
	return map[Class]Quota{
		ClassUser:     {Window: 15 * time.Minute, Max: 500},
		ClassPhone:    {Window: 5 * time.Minute, Max: 3},
		ClassUsername: {Window: 15 * time.Minute, Max: 5},
		ClassDevice:   {Window: 15 * time.Minute, Max: 50},
	}
}

// localTTL bounds how long a counter read is served from the in-process
// layer. Sub-second staleness across instances is accepted; crossing the
// ceiling is still enforced because rejections are cached too.
const localTTL = 60 * time.Second

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed    bool
	Class      Class
	Identity   string
	Limit      int64
	Remaining  int64
	RetryAfter int // seconds until the current window rolls over
}

// Counter applies fixed-window quotas backed by the shared cache with a
// short-lived in-process layer in front.
type Counter struct {
	shared cache.Cache
	local  *cache.Memory
	quotas map[Class]Quota
	now    func() time.Time
}

// CounterOption configures a Counter.
type CounterOption func(*Counter)

// WithQuotas overrides the tier table.
func WithQuotas(q map[Class]Quota) CounterOption {
	return func(c *Counter) {
		if len(q) > 0 {
			c.quotas = q
		}
	}
}

// WithClock overrides the time source (used by tests to cross windows).
func WithClock(fn func() time.Time) CounterOption {
	return func(c *Counter) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCounter constructs a Counter over the shared cache. The local layer is
// owned by the Counter and bounded independently of the shared store.
func NewCounter(shared cache.Cache, opts ...CounterOption) *Counter {
	c := &Counter{
		shared: shared,
		quotas: DefaultQuotas(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.local = cache.NewMemory(cache.WithMaxSize(50_000), cache.WithNow(c.now))
	return c
}

// StartSweeper launches the local layer's eviction sweep.
func (c *Counter) StartSweeper(interval time.Duration) { c.local.StartSweeper(interval) }

// Stop terminates the local layer's sweep goroutine.
func (c *Counter) Stop() { c.local.Stop() }

// Quota returns the tier for a class.
func (c *Counter) Quota(class Class) Quota { return c.quotas[class] }

// Take consumes one request from the bucket for (class, identity) in the
// current window. A shared-cache outage fails open: availability of the
// database-backed primary path matters more than perfect quota accuracy.
func (c *Counter) Take(ctx context.Context, class Class, identity string) Decision {
	quota := c.quotas[class]
	nowMs := c.now().UnixMilli()
	windowMs := quota.Window.Milliseconds()
	windowIdx := nowMs / windowMs
	key := "rl:" + string(class) + ":" + identity + ":" + strconv.FormatInt(windowIdx, 10)
	retryAfter := int(((windowIdx+1)*windowMs - nowMs + 999) / 1000)

	d := Decision{Class: class, Identity: identity, Limit: quota.Max, RetryAfter: retryAfter}

	// The local layer absorbs bursts past the ceiling without a shared
	// round-trip per request.
	if raw, ok, err := c.local.Get(ctx, key); err == nil && ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= quota.Max {
			return d
		}
	}

	count, err := c.shared.IncrBy(ctx, key, 1, quota.Window)
	if err != nil {
		// Fail open.
		d.Allowed = true
		d.Remaining = quota.Max - 1
		return d
	}
	_ = c.local.Set(ctx, key, strconv.FormatInt(count, 10), localTTL)

	if count > quota.Max {
		return d
	}
	d.Allowed = true
	d.Remaining = quota.Max - count
	return d
}
