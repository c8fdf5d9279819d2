// Package authn resolves a verified credential assertion into an
// authenticated principal, cache-first with the credential store as ground
// truth.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vidyahub.org/internal/cache"
	"vidyahub.org/internal/store"
	"vidyahub.org/internal/token"
)

var (
	// ErrUnauthorized covers missing, invalid and expired assertions as well
	// as deactivated or nonexistent accounts. The cases are deliberately
	// indistinguishable to the caller to avoid account enumeration.
	ErrUnauthorized = errors.New("authn: unauthorized")

	// ErrDependencyUnavailable means the credential store could not answer.
	// It is fatal to the request: identity is never granted by default.
	ErrDependencyUnavailable = errors.New("authn: credential store unavailable")
)

// Membership is one organization a subject belongs to.
type Membership struct {
	OrganizationID string `json:"organizationId"`
	Role           string `json:"role"`
}

// Principal is the authenticated identity for one request. It is constructed
// fresh or from cache, never mutated, and discarded at response time.
type Principal struct {
	ID             string       `json:"id"`
	Role           string       `json:"role"`
	OrganizationID string       `json:"organizationId"`
	IsActive       bool         `json:"isActive"`
	Memberships    []Membership `json:"memberships,omitempty"`
}

// principalTTL bounds how long a resolved principal may be served from cache.
// Kept short so a deactivated account cannot stay "active" for long.
const principalTTL = 60 * time.Second

const principalKeyPrefix = "principal:"

// Resolver produces Principals from verified claims.
type Resolver struct {
	codec *token.Codec
	users store.UserStore
	cache cache.Cache
	ttl   time.Duration
}

// NewResolver constructs a Resolver.
func NewResolver(codec *token.Codec, users store.UserStore, c cache.Cache) *Resolver {
	return &Resolver{codec: codec, users: users, cache: c, ttl: principalTTL}
}

// Authenticate resolves the request's assertion into a Principal. When the
// rate limiter already verified the token, its claims arrive as preverified
// and the raw token is not re-verified; otherwise raw is verified here.
func (r *Resolver) Authenticate(ctx context.Context, preverified *token.Claims, raw string) (Principal, error) {
	claims := preverified
	if claims == nil {
		var err error
		claims, err = r.codec.Verify(raw)
		if err != nil {
			return Principal{}, ErrUnauthorized
		}
	}
	return r.Resolve(ctx, claims.SubjectID(), claims.OrganizationID)
}

// Resolve returns the Principal for a subject, preferring the cached entry.
// Cache failures are swallowed and fall through to the store; store failures
// are fatal.
func (r *Resolver) Resolve(ctx context.Context, subjectID, organizationID string) (Principal, error) {
	if cached, ok := r.fromCache(ctx, subjectID); ok && cached.IsActive {
		return r.pin(cached, organizationID), nil
	}

	rows, err := r.users.FindActive(ctx, subjectID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}
	if len(rows) == 0 {
		return Principal{}, ErrUnauthorized
	}

	principal := Principal{
		ID:             rows[0].ID,
		Role:           rows[0].Role,
		OrganizationID: rows[0].OrganizationID,
		IsActive:       true,
	}
	for _, row := range rows {
		principal.Memberships = append(principal.Memberships, Membership{
			OrganizationID: row.OrganizationID,
			Role:           row.Role,
		})
	}

	r.toCache(ctx, principal)
	return r.pin(principal, organizationID), nil
}

// pin selects the membership matching the token's organization claim as the
// primary one. An unpinned token keeps the first (oldest) membership.
func (r *Resolver) pin(p Principal, organizationID string) Principal {
	if organizationID == "" {
		return p
	}
	for _, m := range p.Memberships {
		if m.OrganizationID == organizationID {
			p.OrganizationID = m.OrganizationID
			p.Role = m.Role
			return p
		}
	}
	return p
}

func (r *Resolver) fromCache(ctx context.Context, subjectID string) (Principal, bool) {
	raw, ok, err := r.cache.Get(ctx, principalKeyPrefix+subjectID)
	if err != nil || !ok {
		return Principal{}, false
	}
	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Principal{}, false
	}
	return p, true
}

func (r *Resolver) toCache(ctx context.Context, p Principal) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	// Best effort: a cache outage must not fail resolution.
	_ = r.cache.Set(ctx, principalKeyPrefix+p.ID, string(data), r.ttl)
}
