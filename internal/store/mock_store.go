// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory maps with a lookup counter so tests can verify cache behavior

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// It counts GetAPIKey/GetUser calls so tests can assert that the validation
// cache suppresses round-trips.
type MockStore struct {
	mu       sync.RWMutex
	keys     map[string]*APIKeyRecord // keyed by key_id
	users    map[string]*UserRecord   // keyed by user id
	lookups  int
	pingErr  error
	keyErr   error // forced error for GetAPIKey, simulates store outage
	closedAt *time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		keys:  make(map[string]*APIKeyRecord),
		users: make(map[string]*UserRecord),
	}
}

// PutAPIKey seeds an API key record.
func (m *MockStore) PutAPIKey(rec *APIKeyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rec
	m.keys[r.KeyID] = &r
}

// PutUser seeds a user record.
func (m *MockStore) PutUser(u *UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[c.ID] = &c
}

// Lookups returns the number of GetAPIKey/GetUser calls made so far.
func (m *MockStore) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// FailLookups makes GetAPIKey return the given error, simulating an
// unreachable store. Pass nil to restore normal behavior.
func (m *MockStore) FailLookups(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyErr = err
}

// FailPing makes Ping return the given error.
func (m *MockStore) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// GetAPIKey retrieves a seeded API key record.
func (m *MockStore) GetAPIKey(ctx context.Context, keyID string) (*APIKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	if m.keyErr != nil {
		return nil, m.keyErr
	}

	rec, ok := m.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// GetUser retrieves a seeded user record.
func (m *MockStore) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// TouchAPIKey updates last_used_at for a seeded key.
func (m *MockStore) TouchAPIKey(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.keys[keyID]; ok {
		now := time.Now().UTC()
		rec.LastUsedAt = &now
	}
	return nil
}

// CreateAPIKey inserts a new key record.
func (m *MockStore) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[rec.KeyID]; ok {
		return ErrDuplicateKey
	}
	r := *rec
	if r.Status == "" {
		r.Status = KeyStatusActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.keys[r.KeyID] = &r
	return nil
}

// Ping reports the configured ping error, nil by default.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.closedAt = &now
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
