package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a bounded in-process Cache. It backs the short-lived layer in
// front of the shared rate-limit counters and serves as the full cache in
// tests and single-node deployments. Instances are injected, never shared
// through package state, so tests can size and sweep them deterministically.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	now     func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// MemoryOption configures a Memory instance.
type MemoryOption func(*Memory)

// WithMaxSize bounds the number of entries. When the bound is reached the
// sweep-order oldest entries are evicted to make room.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithNow overrides the time source (used by tests to cross TTL and
// rate-limit window boundaries without sleeping).
func WithNow(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

const defaultMaxSize = 100_000

// NewMemory constructs a bounded in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:   make(map[string]*entry),
		maxSize:   defaultMaxSize,
		now:       time.Now,
		sweepStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSweeper launches a background goroutine that drops expired entries on
// a fixed interval. It is a memory bound, not a correctness mechanism: reads
// already treat expired entries as absent.
func (m *Memory) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine.
func (m *Memory) Stop() {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// live returns the entry at key, dropping it if expired. Caller holds mu.
func (m *Memory) live(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// room evicts entries closest to expiry until one slot is free. Caller holds mu.
func (m *Memory) room() {
	for len(m.entries) >= m.maxSize {
		var victim string
		var victimExp time.Time
		first := true
		for k, e := range m.entries {
			if first || (!e.expiresAt.IsZero() && (victimExp.IsZero() || e.expiresAt.Before(victimExp))) {
				victim = k
				victimExp = e.expiresAt
				first = false
			}
		}
		delete(m.entries, victim)
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	if e.set != nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) == nil {
		m.room()
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		m.room()
		e = &entry{}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	// Counters are plain numeric strings, same as the durable store.
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n += delta
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set == nil {
		m.room()
		e = &entry{set: make(map[string]struct{}, len(members))}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set == nil {
		return nil, false, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	return members, true, nil
}

var _ Cache = (*Memory)(nil)
