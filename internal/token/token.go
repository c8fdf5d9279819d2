// Package token signs and verifies the compact identity assertion carried on
// every authenticated request: subject id plus organization id, HS256 over a
// single process-wide secret.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vidyahub.org/internal/ids"
)

const defaultTTL = 30 * 24 * time.Hour

// ErrInvalidToken indicates the assertion failed verification: malformed
// input, wrong signature, unexpected algorithm or expired claims all collapse
// to this one error so callers cannot distinguish them.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the verified content of an assertion.
type Claims struct {
	OrganizationID string `json:"org"`
	jwt.RegisteredClaims
}

// SubjectID returns the user id the assertion was issued for.
func (c *Claims) SubjectID() string { return c.Subject }

// Codec signs and verifies assertions with a fixed symmetric secret.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithIssuer sets the issuer claim stamped into signed tokens.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = strings.TrimSpace(issuer) }
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. An empty secret is a configuration error and
// the caller is expected to treat it as fatal at startup.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is not configured")
	}
	c := &Codec{
		secret: secret,
		issuer: "vidyahub",
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign issues an assertion for the subject within the given organization.
func (c *Codec) Sign(subjectID, organizationID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", errors.New("token: subject is required")
	}
	now := c.now().UTC()
	claims := Claims{
		OrganizationID: strings.TrimSpace(organizationID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the assertion's signature and claims. The signing method is
// pinned inside the keyfunc so a token whose header claims any other
// algorithm fails before signature verification.
func (c *Codec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
