// ABOUTME: Store interface and data types for credential lookups
// ABOUTME: Defines APIKeyRecord, UserRecord and the Store interface consumed by the validator

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when trying to create an API key whose key_id already exists
var ErrDuplicateKey = errors.New("api key already exists")

// KeyStatus is the lifecycle status of an API key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// APIKeyRecord is a stored API key. The secret is never stored; only its
// SHA-256 hex digest is kept in SecretHash.
type APIKeyRecord struct {
	KeyID          string
	SecretHash     string
	Label          string
	Role           string
	Scopes         []string
	Status         KeyStatus
	OwnerID        string
	OrganizationID string
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// UserRecord is a stored user, looked up to enrich token claims and to
// resolve the owner of an API key.
type UserRecord struct {
	ID             string
	Username       string
	Email          string
	Role           string
	OrganizationID string
	Confirmed      bool
	Blocked        bool
	CreatedAt      time.Time
}

// Store defines the read-mostly interface to the external credential store.
// TouchAPIKey is the single write the validation path performs and is always
// best-effort.
type Store interface {
	// GetAPIKey retrieves an API key record by key_id.
	// Returns ErrNotFound if no key exists with that id.
	GetAPIKey(ctx context.Context, keyID string) (*APIKeyRecord, error)

	// GetUser retrieves a user by id.
	// Returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)

	// TouchAPIKey updates last_used_at for a key to now.
	TouchAPIKey(ctx context.Context, keyID string) error

	// CreateAPIKey inserts a new API key record.
	// Returns ErrDuplicateKey if the key_id is already taken.
	CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
