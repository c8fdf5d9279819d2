// Package store is the typed adapter over the relational credential store.
// It is the source of truth for authorization: unlike the cache, its
// failures are never swallowed.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrNotConfigured means no credential store was wired at startup. Every
	// Disabled operation fails with it, so callers surface it as a dependency
	// outage rather than dereferencing a nil store.
	ErrNotConfigured = errors.New("store: not configured")
)

// Roles a user row can carry.
const (
	RoleStudent = "student"
	RoleParent  = "parent"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

// User is one membership row: the same subject id may appear once per
// organization in a multi-tenant deployment.
type User struct {
	ID             string
	OrganizationID string
	Role           string
	FullName       string
	Phone          string
	Username       string
	Email          string
	PasswordHash   string
	ParentID       string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserStore is the persistence surface the auth core needs.
type UserStore interface {
	// FindActive returns every active membership row for the subject id,
	// ordered by creation time. An empty slice means the account does not
	// exist or has been deactivated; callers must not distinguish the two.
	FindActive(ctx context.Context, id string) ([]*User, error)

	// FindActiveByPhone returns the active user registered under phone.
	FindActiveByPhone(ctx context.Context, phone string) (*User, error)

	// FindActiveByUsername returns the active user with the given username.
	FindActiveByUsername(ctx context.Context, username string) (*User, error)

	// ActiveChildren returns the ids of active users whose parent reference
	// equals parentID within the organization.
	ActiveChildren(ctx context.Context, parentID, organizationID string) ([]string, error)

	// Create inserts a user row.
	Create(ctx context.Context, u *User) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// Disabled stands in for the credential store when no DSN is configured. It
// keeps the API up in development: auth endpoints fail with a dependency
// error instead of the process crashing on a nil store.
type Disabled struct{}

var _ UserStore = Disabled{}

func (Disabled) FindActive(context.Context, string) ([]*User, error) {
	return nil, ErrNotConfigured
}

func (Disabled) FindActiveByPhone(context.Context, string) (*User, error) {
	return nil, ErrNotConfigured
}

func (Disabled) FindActiveByUsername(context.Context, string) (*User, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ActiveChildren(context.Context, string, string) ([]string, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Create(context.Context, *User) error { return ErrNotConfigured }

func (Disabled) UpdatePassword(context.Context, string, string) error { return ErrNotConfigured }
