// ABOUTME: SQL implementation of the Store interface over database/sql
// ABOUTME: Supports postgres (lib/pq) for production and sqlite (modernc.org) for dev/tests

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore implements the Store interface against a relational database.
// The credential tables are externally owned in production (postgres); the
// sqlite driver exists for local development and tests, where the schema is
// bootstrapped automatically.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLStore opens a credential store connection for the given driver
// ("postgres" or "sqlite") and DSN. For sqlite the schema is created if
// missing; the postgres schema is owned by the credential service.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if driver == DriverSQLite {
		// WAL mode for concurrent reads, matching our other sqlite usage
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if err := s.createSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	// The validation path is read-mostly; a small pool is plenty.
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info("credential store initialized", "driver", driver)
	return s, nil
}

// createSchema creates the credential tables if they don't exist.
// Only used for the sqlite driver.
func (s *SQLStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS api_keys (
			key_id          TEXT PRIMARY KEY,
			secret_hash     TEXT NOT NULL,
			label           TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL DEFAULT '',
			scopes          TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'active',
			owner_id        TEXT NOT NULL DEFAULT '',
			organization_id TEXT NOT NULL DEFAULT '',
			expires_at      TEXT,
			last_used_at    TEXT,
			created_at      TEXT NOT NULL,

			CHECK (status IN ('active', 'revoked', 'expired'))
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);
		CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys(status);

		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			username        TEXT NOT NULL DEFAULT '',
			email           TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL DEFAULT 'authenticated',
			organization_id TEXT NOT NULL DEFAULT '',
			confirmed       INTEGER NOT NULL DEFAULT 1,
			blocked         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// rebind converts ?-style placeholders to $n-style for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetAPIKey retrieves an API key record by key_id.
// Returns ErrNotFound if no key exists with that id.
func (s *SQLStore) GetAPIKey(ctx context.Context, keyID string) (*APIKeyRecord, error) {
	query := s.rebind(`
		SELECT key_id, secret_hash, label, role, scopes, status,
		       owner_id, organization_id, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_id = ?
	`)

	var rec APIKeyRecord
	var scopes, createdAtStr string
	var expiresAtStr, lastUsedAtStr sql.NullString

	err := s.db.QueryRowContext(ctx, query, keyID).Scan(
		&rec.KeyID,
		&rec.SecretHash,
		&rec.Label,
		&rec.Role,
		&scopes,
		&rec.Status,
		&rec.OwnerID,
		&rec.OrganizationID,
		&expiresAtStr,
		&lastUsedAtStr,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	rec.Scopes = splitScopes(scopes)

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.ExpiresAt, err = parseNullTime(expiresAtStr); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if rec.LastUsedAt, err = parseNullTime(lastUsedAtStr); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}

	return &rec, nil
}

// GetUser retrieves a user by id.
// Returns ErrNotFound if the user does not exist.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	query := s.rebind(`
		SELECT id, username, email, role, organization_id, confirmed, blocked, created_at
		FROM users
		WHERE id = ?
	`)

	var u UserRecord
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Role,
		&u.OrganizationID,
		&u.Confirmed,
		&u.Blocked,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &u, nil
}

// TouchAPIKey updates last_used_at for a key. Missing keys are not an error;
// the caller treats this as best-effort bookkeeping.
func (s *SQLStore) TouchAPIKey(ctx context.Context, keyID string) error {
	query := s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE key_id = ?`)

	_, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), keyID)
	if err != nil {
		return fmt.Errorf("updating api key last_used_at: %w", err)
	}
	return nil
}

// CreateAPIKey inserts a new API key record.
// Returns ErrDuplicateKey if the key_id is already taken.
func (s *SQLStore) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	if rec.Status == "" {
		rec.Status = KeyStatusActive
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO api_keys (key_id, secret_hash, label, role, scopes, status,
		                      owner_id, organization_id, expires_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		rec.KeyID,
		rec.SecretHash,
		rec.Label,
		rec.Role,
		strings.Join(rec.Scopes, ","),
		string(rec.Status),
		rec.OwnerID,
		rec.OrganizationID,
		formatNullTime(rec.ExpiresAt),
		formatNullTime(rec.LastUsedAt),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "key_id", rec.KeyID, "owner_id", rec.OwnerID)
	return nil
}

// Ping checks store connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("pinging store: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing credential store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a uniqueness violation for
// either supported driver.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed") ||
		strings.Contains(errStr, "duplicate key value")
}

// splitScopes parses a comma-separated scope column into a slice.
func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// Ensure SQLStore implements Store interface
var _ Store = (*SQLStore)(nil)
