package ratelimit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/obs"
	"vidyahub.org/internal/token"
)

// peekLimit bounds how much of the body is read for phone/username
// classification.
const peekLimit = 8 << 10

// Limiter is the middleware-shaped tiered rate limiter. It verifies bearer
// tokens as a side effect of classification and hands the decoded claims to
// the auth gate through the request context, so the gate never re-verifies.
type Limiter struct {
	codec   *token.Codec
	counter *Counter
}

// NewLimiter constructs the middleware.
func NewLimiter(codec *token.Codec, counter *Counter) *Limiter {
	return &Limiter{codec: codec, counter: counter}
}

// Middleware classifies the request into exactly one identity bucket,
// consumes quota and either annotates the response with the remaining quota
// or rejects with 429. A failed or absent token verification never blocks
// the request here; it only downgrades the classification.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, identity, claims := l.classify(r)
		if claims != nil {
			r = r.WithContext(authn.ContextWithClaims(r.Context(), claims))
		}

		d := l.counter.Take(r.Context(), class, identity)
		if !d.Allowed {
			obs.RateLimitRejected(string(d.Class))
			writeLimited(w, string(d.Class),
				fmt.Sprintf("Too many requests. Try again in %d seconds", d.RetryAfter),
				d.Limit, d.RetryAfter)
			return
		}

		w.Header().Set("X-RateLimit-Type", string(d.Class))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		next.ServeHTTP(w, r)
	})
}

// classify picks the identity bucket by strict precedence.
func (l *Limiter) classify(r *http.Request) (Class, string, *token.Claims) {
	if raw := bearerToken(r); raw != "" {
		if claims, err := l.codec.Verify(raw); err == nil {
			return ClassUser, claims.SubjectID(), claims
		}
	}
	if phone, username := peekCredentials(r); phone != "" {
		return ClassPhone, phone, nil
	} else if username != "" {
		return ClassUsername, username, nil
	}
	return ClassDevice, deviceFingerprint(r), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// peekCredentials reads a bounded prefix of a JSON body looking for a phone
// number or username, then restores the body for downstream handlers.
func peekCredentials(r *http.Request) (phone, username string) {
	if r.Body == nil || r.Method == http.MethodGet {
		return "", ""
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return "", ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, peekLimit))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), rest), rest}
	if err != nil {
		return "", ""
	}
	var body struct {
		Phone       string `json:"phone"`
		PhoneNumber string `json:"phoneNumber"`
		Username    string `json:"username"`
	}
	if err := json.Unmarshal(buf, &body); err != nil {
		return "", ""
	}
	if body.Phone == "" {
		body.Phone = body.PhoneNumber
	}
	return strings.TrimSpace(body.Phone), strings.TrimSpace(body.Username)
}

// deviceFingerprint combines the source address with a hash of
// client-supplied headers so distinct anonymous clients behind one proxy do
// not all share a bucket.
func deviceFingerprint(r *http.Request) string {
	h := fnv.New32a()
	_, _ = io.WriteString(h, r.Header.Get("User-Agent"))
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, r.Header.Get("Accept-Language"))
	return clientIP(r) + "-" + strconv.FormatUint(uint64(h.Sum32()), 16)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeLimited emits the machine-readable 429 envelope shared by the tiered
// and upload limiters.
func writeLimited(w http.ResponseWriter, kind, msg string, limit int64, retryAfter int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      msg,
		"type":       kind,
		"limit":      limit,
		"retryAfter": retryAfter,
	})
}
