package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/obs"
	"vidyahub.org/internal/token"
)

// Upload rejection types, in evaluation order.
const (
	TypeUploadRequests = "file_upload_requests"
	TypeUploadFiles    = "file_upload_files"
	TypeUploadSize     = "file_upload_size"
)

// UploadQuota holds the three simultaneous ceilings for attachment
// endpoints.
type UploadQuota struct {
	Window   time.Duration
	Requests int64
	Files    int64
	Bytes    int64
}

// DefaultUploadQuotas returns the per-identity upload tiers.
func DefaultUploadQuotas() (user, anonymous UploadQuota) {
	user = UploadQuota{Window: time.Hour, Requests: 20, Files: 100, Bytes: 500 << 20}
	anonymous = UploadQuota{Window: time.Hour, Requests: 5, Files: 20, Bytes: 50 << 20}
	return user, anonymous
}

// maxParseMemory is the in-memory budget handed to multipart parsing; larger
// parts spill to temp files.
const maxParseMemory = 32 << 20

// UploadLimiter tracks request count, cumulative file count and cumulative
// byte size per identity over a rolling window. All three must pass; the
// first exceeded dimension names the rejection.
type UploadLimiter struct {
	codec     *token.Codec
	counter   *Counter
	userQuota UploadQuota
	anonQuota UploadQuota
}

// NewUploadLimiter constructs the upload middleware sharing the tiered
// limiter's counter (and therefore its local layer and fail-open policy).
func NewUploadLimiter(codec *token.Codec, counter *Counter) *UploadLimiter {
	user, anon := DefaultUploadQuotas()
	return &UploadLimiter{codec: codec, counter: counter, userQuota: user, anonQuota: anon}
}

// Middleware gates one attachment endpoint. It parses the multipart form up
// front so file count and sizes are known before any storage write happens.
func (l *UploadLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, quota := l.identify(r)

		files, size, err := measure(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"malformed upload body"}`))
			return
		}

		d, kind := l.take(r.Context(), identity, quota, files, size)
		if kind != "" {
			obs.RateLimitRejected(kind)
			writeLimited(w, kind,
				fmt.Sprintf("Upload quota exceeded. Try again in %d seconds", d.RetryAfter),
				d.Limit, d.RetryAfter)
			return
		}

		w.Header().Set("X-FileUpload-Limit", strconv.FormatInt(quota.Requests, 10))
		w.Header().Set("X-FileUpload-Remaining", strconv.FormatInt(d.Remaining, 10))
		next.ServeHTTP(w, r)
	})
}

// identify prefers claims already decoded by the tiered limiter, verifies the
// bearer token itself otherwise, and falls back to the source address.
func (l *UploadLimiter) identify(r *http.Request) (string, UploadQuota) {
	if claims, ok := authn.ClaimsFromContext(r.Context()); ok {
		return "user:" + claims.SubjectID(), l.userQuota
	}
	if raw := bearerToken(r); raw != "" {
		if claims, err := l.codec.Verify(raw); err == nil {
			return "user:" + claims.SubjectID(), l.userQuota
		}
	}
	return "addr:" + clientIP(r), l.anonQuota
}

// measure parses the multipart form and returns file count and cumulative
// byte size. Non-multipart bodies count zero files and their content length.
func measure(r *http.Request) (files, size int64, err error) {
	ct := r.Header.Get("Content-Type")
	if len(ct) >= 10 && ct[:10] == "multipart/" {
		if err := r.ParseMultipartForm(maxParseMemory); err != nil {
			return 0, 0, err
		}
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				files++
				size += fh.Size
			}
		}
		return files, size, nil
	}
	if r.ContentLength > 0 {
		size = r.ContentLength
	}
	return 0, size, nil
}

// take increments the three counters and reports the first exceeded
// dimension, if any. Counters race slightly under concurrency; overshoot is
// accepted in exchange for lock-free increments.
func (l *UploadLimiter) take(ctx context.Context, identity string, quota UploadQuota, files, size int64) (Decision, string) {
	nowMs := l.counter.now().UnixMilli()
	windowMs := quota.Window.Milliseconds()
	windowIdx := nowMs / windowMs
	suffix := identity + ":" + strconv.FormatInt(windowIdx, 10)
	retryAfter := int(((windowIdx+1)*windowMs - nowMs + 999) / 1000)

	d := Decision{Identity: identity, Limit: quota.Requests, RetryAfter: retryAfter}

	requests, err := l.counter.shared.IncrBy(ctx, "rl:up:req:"+suffix, 1, quota.Window)
	if err != nil {
		// Fail open, same policy as the tiered limiter.
		d.Remaining = quota.Requests - 1
		return d, ""
	}
	totalFiles, err := l.counter.shared.IncrBy(ctx, "rl:up:files:"+suffix, files, quota.Window)
	if err != nil {
		d.Remaining = quota.Requests - requests
		return d, ""
	}
	totalBytes, err := l.counter.shared.IncrBy(ctx, "rl:up:bytes:"+suffix, size, quota.Window)
	if err != nil {
		d.Remaining = quota.Requests - requests
		return d, ""
	}

	switch {
	case requests > quota.Requests:
		d.Limit = quota.Requests
		return d, TypeUploadRequests
	case totalFiles > quota.Files:
		d.Limit = quota.Files
		return d, TypeUploadFiles
	case totalBytes > quota.Bytes:
		d.Limit = quota.Bytes
		return d, TypeUploadSize
	}
	d.Remaining = quota.Requests - requests
	return d, ""
}
