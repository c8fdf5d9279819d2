package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidyahub.org/internal/cache"
)

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestIssueThenVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(cache.NewMemory())

	code, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.NoError(t, m.Verify(ctx, "9876543210", code))

	// The code is single-use: a second verify with any candidate fails.
	err = m.Verify(ctx, "9876543210", code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyWithoutIssuedCode(t *testing.T) {
	m := NewManager(cache.NewMemory())
	err := m.Verify(context.Background(), "9876543210", "123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreeWrongAttemptsDestroyCode(t *testing.T) {
	ctx := context.Background()
	m := NewManager(cache.NewMemory())

	code, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)
	bad := wrongCode(code)

	err = m.Verify(ctx, "9876543210", bad)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Remaining)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining", err.Error())

	err = m.Verify(ctx, "9876543210", bad)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Remaining)
	assert.Equal(t, "Invalid OTP. 1 attempt remaining", err.Error())

	err = m.Verify(ctx, "9876543210", bad)
	assert.ErrorIs(t, err, ErrExhausted)

	// The correct code no longer works: the record was destroyed.
	err = m.Verify(ctx, "9876543210", code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemainingAttemptsDecrements(t *testing.T) {
	ctx := context.Background()
	m := NewManager(cache.NewMemory())

	code, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)

	n, err := m.RemainingAttempts(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_ = m.Verify(ctx, "9876543210", wrongCode(code))
	n, _ = m.RemainingAttempts(ctx, "9876543210")
	assert.Equal(t, 2, n)

	_ = m.Verify(ctx, "9876543210", wrongCode(code))
	n, _ = m.RemainingAttempts(ctx, "9876543210")
	assert.Equal(t, 1, n)
}

func TestCodeExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := cache.NewMemory(cache.WithNow(func() time.Time { return now }))
	m := NewManager(mem)

	code, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)

	now = now.Add(CodeTTL + time.Second)
	err = m.Verify(ctx, "9876543210", code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReissueSupersedesOldCode(t *testing.T) {
	ctx := context.Background()
	m := NewManager(cache.NewMemory())

	first, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)
	second, err := m.Issue(ctx, "9876543210")
	require.NoError(t, err)

	if first != second {
		err = m.Verify(ctx, "9876543210", first)
		var mismatch *MismatchError
		assert.ErrorAs(t, err, &mismatch)
	}
	require.NoError(t, m.Verify(ctx, "9876543210", second))
}

func TestGenerateCodePreservesLeadingZeros(t *testing.T) {
	for range 64 {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
}

func TestVerifyErrorsAreWrapped(t *testing.T) {
	// Cache outage on read must surface, not silently pass or fail the code.
	m := NewManager(failingCache{})
	err := m.Verify(context.Background(), "9876543210", "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, cache.ErrUnavailable
}
func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return cache.ErrUnavailable
}
func (failingCache) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, cache.ErrUnavailable
}
func (failingCache) Del(context.Context, ...string) error { return cache.ErrUnavailable }
func (failingCache) SAdd(context.Context, string, time.Duration, ...string) error {
	return cache.ErrUnavailable
}
func (failingCache) SMembers(context.Context, string) ([]string, bool, error) {
	return nil, false, cache.ErrUnavailable
}
