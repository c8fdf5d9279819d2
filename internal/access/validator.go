// Package access implements the parent-to-child delegated-access check:
// every parent-initiated read of a child's records resolves the requested
// child id against the parent's validated roster first. This is the one
// domain-specific authorization rule in the core and the load-bearing one
// for tenant isolation.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/cache"
	"vidyahub.org/internal/ids"
	"vidyahub.org/internal/store"
)

var (
	// ErrBadChildID means the requested id is missing or malformed. It is
	// raised before any store or cache lookup.
	ErrBadChildID = errors.New("access: invalid child id")

	// ErrForbidden means the child is not in the parent's roster.
	ErrForbidden = errors.New("access: child not linked to parent")

	// ErrDependencyUnavailable means the credential store could not answer.
	ErrDependencyUnavailable = errors.New("access: credential store unavailable")
)

// Child is a validated child identity, returned so the caller can scope all
// subsequent queries to the child's organization.
type Child struct {
	ID             string
	OrganizationID string
}

// rosterTTL bounds the staleness window for cached child rosters. Roster
// changes do not proactively invalidate the cache.
const rosterTTL = 10 * time.Minute

const rosterKeyPrefix = "children:"

// Validator resolves and caches the set of child identities a parent
// legitimately controls.
type Validator struct {
	users store.UserStore
	cache cache.Cache
	ttl   time.Duration
}

// NewValidator constructs a Validator.
func NewValidator(users store.UserStore, c cache.Cache) *Validator {
	return &Validator{users: users, cache: c, ttl: rosterTTL}
}

// Validate checks that childID belongs to the parent principal's roster
// within the parent's organization. Cache failures fall through to the
// store; store failures are fatal.
func (v *Validator) Validate(ctx context.Context, parent authn.Principal, childID string) (Child, error) {
	if childID == "" || !ids.Valid(childID) {
		return Child{}, ErrBadChildID
	}

	key := rosterKeyPrefix + parent.ID + ":" + parent.OrganizationID
	roster, ok, err := v.cache.SMembers(ctx, key)
	if err != nil || !ok {
		roster, err = v.users.ActiveChildren(ctx, parent.ID, parent.OrganizationID)
		if err != nil {
			return Child{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
		}
		// An empty roster is not cached: it would pin a false negative for a
		// parent whose first child is registered moments later. The repeat
		// lookup for childless parents is an accepted cost.
		if len(roster) > 0 {
			_ = v.cache.SAdd(ctx, key, v.ttl, roster...)
		}
	}

	for _, id := range roster {
		if id == childID {
			return Child{ID: childID, OrganizationID: parent.OrganizationID}, nil
		}
	}
	return Child{}, ErrForbidden
}
