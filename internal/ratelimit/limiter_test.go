package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/cache"
	"vidyahub.org/internal/token"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestUsernameBucketRejectsSixthRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	counter := NewCounter(cache.NewMemory(), WithClock(func() time.Time { return now }))
	codec, _ := token.NewCodec([]byte("test-secret"))
	handler := NewLimiter(codec, counter).Middleware(okHandler())

	makeReq := func() *httptest.ResponseRecorder {
		body := `{"username":"teacher1","password":"x"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.1:1000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := range 5 {
		if rr := makeReq(); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := makeReq()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 6th request, got %d", rr.Code)
	}
	var body struct {
		Error      string `json:"error"`
		Type       string `json:"type"`
		Limit      int64  `json:"limit"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Type != "username" || body.Limit != 5 {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	window := DefaultQuotas()[ClassUsername].Window
	if body.RetryAfter <= 0 || body.RetryAfter > int(window.Seconds()) {
		t.Fatalf("retryAfter out of range: %d", body.RetryAfter)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// First request of the next window succeeds again.
	now = now.Add(window + time.Second)
	if rr := makeReq(); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 in fresh window, got %d", rr.Code)
	}
}

func TestAuthenticatedUserClassAndClaimsReuse(t *testing.T) {
	counter := NewCounter(cache.NewMemory())
	codec, _ := token.NewCodec([]byte("test-secret"))

	var sawClaims *token.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := authn.ClaimsFromContext(r.Context()); ok {
			sawClaims = claims
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := NewLimiter(codec, counter).Middleware(inner)

	raw, _ := codec.Sign("user-1", "org-a")
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Type") != "user" {
		t.Fatalf("expected user class, got %q", rr.Header().Get("X-RateLimit-Type"))
	}
	if rr.Header().Get("X-RateLimit-Limit") != "500" {
		t.Fatalf("unexpected limit header: %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if sawClaims == nil || sawClaims.SubjectID() != "user-1" {
		t.Fatalf("expected verified claims in context, got %+v", sawClaims)
	}
}

func TestInvalidTokenDowngradesClassification(t *testing.T) {
	counter := NewCounter(cache.NewMemory())
	codec, _ := token.NewCodec([]byte("test-secret"))
	handler := NewLimiter(codec, counter).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer forged-token")
	req.RemoteAddr = "10.0.0.2:2000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// Invalid token must not block the request, only downgrade the bucket.
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Type") != "device" {
		t.Fatalf("expected device class, got %q", rr.Header().Get("X-RateLimit-Type"))
	}
}

func TestPhoneBucketPrecedesUsername(t *testing.T) {
	counter := NewCounter(cache.NewMemory())
	codec, _ := token.NewCodec([]byte("test-secret"))
	handler := NewLimiter(codec, counter).Middleware(okHandler())

	body := `{"phone":"9876543210","username":"ignored"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/otp/request", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-RateLimit-Type") != "phone" {
		t.Fatalf("expected phone class, got %q", rr.Header().Get("X-RateLimit-Type"))
	}
	if rr.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("unexpected limit: %q", rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestBodyRestoredAfterPeek(t *testing.T) {
	counter := NewCounter(cache.NewMemory())
	codec, _ := token.NewCodec([]byte("test-secret"))

	var downstreamBody []byte
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downstreamBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	handler := NewLimiter(codec, counter).Middleware(inner)

	payload := `{"phone":"9876543210","otp":"123456"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/otp/verify", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !bytes.Equal(downstreamBody, []byte(payload)) {
		t.Fatalf("body not restored: %q", downstreamBody)
	}
}

func TestFailOpenOnCacheOutage(t *testing.T) {
	counter := NewCounter(unavailableCache{})
	codec, _ := token.NewCodec([]byte("test-secret"))
	handler := NewLimiter(codec, counter).Middleware(okHandler())

	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		req.RemoteAddr = "10.0.0.3:3000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200, got %d", rr.Code)
		}
	}
}

func TestDistinctDevicesGetDistinctBuckets(t *testing.T) {
	a := deviceFingerprint(&http.Request{
		RemoteAddr: "10.0.0.1:1000",
		Header:     http.Header{"User-Agent": {"agent-a"}},
	})
	b := deviceFingerprint(&http.Request{
		RemoteAddr: "10.0.0.1:1000",
		Header:     http.Header{"User-Agent": {"agent-b"}},
	})
	if a == b {
		t.Fatalf("expected distinct fingerprints, both %q", a)
	}
}

func TestWindowIndexIsDeterministic(t *testing.T) {
	// Two counters sharing a clock and a store must agree on buckets.
	now := time.Unix(1_700_000_000, 500_000_000)
	shared := cache.NewMemory(cache.WithNow(func() time.Time { return now }))
	c1 := NewCounter(shared, WithClock(func() time.Time { return now }))
	c2 := NewCounter(shared, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	d1 := c1.Take(ctx, ClassUsername, "u")
	d2 := c2.Take(ctx, ClassUsername, "u")
	if d1.Remaining != 4 || d2.Remaining != 3 {
		t.Fatalf("expected shared window counts 4 then 3, got %d, %d", d1.Remaining, d2.Remaining)
	}
}

type unavailableCache struct{}

func (unavailableCache) Get(context.Context, string) (string, bool, error) {
	return "", false, cache.ErrUnavailable
}
func (unavailableCache) Set(context.Context, string, string, time.Duration) error {
	return cache.ErrUnavailable
}
func (unavailableCache) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, cache.ErrUnavailable
}
func (unavailableCache) Del(context.Context, ...string) error { return cache.ErrUnavailable }
func (unavailableCache) SAdd(context.Context, string, time.Duration, ...string) error {
	return cache.ErrUnavailable
}
func (unavailableCache) SMembers(context.Context, string) ([]string, bool, error) {
	return nil, false, cache.ErrUnavailable
}
