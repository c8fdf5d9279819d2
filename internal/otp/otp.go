// Package otp implements the one-time-code state machine used by the
// phone-based login flow: issue with a fixed TTL, verify with a bounded
// number of attempts, destroy on any terminal outcome.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"vidyahub.org/internal/cache"
)

const (
	// CodeTTL is the lifetime of an issued code. The attempt counter shares
	// it so a stale counter can never outlive the code it guards.
	CodeTTL = 100 * time.Second

	// MaxAttempts bounds verification attempts per issued code.
	MaxAttempts = 3

	codeKeyPrefix    = "otp:code:"
	attemptKeyPrefix = "otp:attempts:"
)

var (
	// ErrNotFound means no live code exists for the phone number: it expired,
	// was consumed, or was never issued. The caller must request a new code.
	ErrNotFound = errors.New("otp: no OTP found, request a new one")

	// ErrExhausted means the code was destroyed after too many wrong
	// attempts. The caller must request a new code.
	ErrExhausted = errors.New("OTP invalidated due to too many wrong attempts")
)

// MismatchError reports a wrong code while attempts remain.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	if e.Remaining == 1 {
		return "Invalid OTP. 1 attempt remaining"
	}
	return fmt.Sprintf("Invalid OTP. %d attempts remaining", e.Remaining)
}

// Manager issues and verifies one-time codes against the shared cache.
type Manager struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewManager constructs a Manager over the shared cache.
func NewManager(c cache.Cache) *Manager {
	return &Manager{cache: c, ttl: CodeTTL}
}

// Issue generates a fresh 6-digit code, stores it under the phone number and
// resets the attempt counter. A superseded code is simply overwritten, which
// invalidates it. Issue does not rate-limit itself; issuance policy belongs
// to the rate limiter in front of the login endpoint.
func (m *Manager) Issue(ctx context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := m.cache.Set(ctx, codeKeyPrefix+phone, code, m.ttl); err != nil {
		return "", fmt.Errorf("otp: store code: %w", err)
	}
	if err := m.cache.Set(ctx, attemptKeyPrefix+phone, "0", m.ttl); err != nil {
		return "", fmt.Errorf("otp: reset attempts: %w", err)
	}
	return code, nil
}

// Verify compares candidate against the stored code. Codes are compared as
// strings so leading zeros survive. Success and exhaustion both destroy the
// code and its counter, making every code single-use.
func (m *Manager) Verify(ctx context.Context, phone, candidate string) error {
	stored, ok, err := m.cache.Get(ctx, codeKeyPrefix+phone)
	if err != nil {
		return fmt.Errorf("otp: read code: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	if stored != candidate {
		attempts, err := m.cache.IncrBy(ctx, attemptKeyPrefix+phone, 1, m.ttl)
		if err != nil {
			return fmt.Errorf("otp: count attempt: %w", err)
		}
		if attempts >= MaxAttempts {
			_ = m.cache.Del(ctx, codeKeyPrefix+phone, attemptKeyPrefix+phone)
			return ErrExhausted
		}
		return &MismatchError{Remaining: int(MaxAttempts - attempts)}
	}

	if err := m.cache.Del(ctx, codeKeyPrefix+phone, attemptKeyPrefix+phone); err != nil {
		return fmt.Errorf("otp: consume code: %w", err)
	}
	return nil
}

// RemainingAttempts reports how many verification attempts are left for the
// phone number, clamped to [0, MaxAttempts].
func (m *Manager) RemainingAttempts(ctx context.Context, phone string) (int, error) {
	raw, ok, err := m.cache.Get(ctx, attemptKeyPrefix+phone)
	if err != nil {
		return 0, err
	}
	if !ok {
		return MaxAttempts, nil
	}
	used, err := strconv.Atoi(raw)
	if err != nil {
		return MaxAttempts, nil
	}
	remaining := MaxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	if remaining > MaxAttempts {
		remaining = MaxAttempts
	}
	return remaining, nil
}

// generateCode draws a uniform 6-digit numeric string, preserving leading
// zeros.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
