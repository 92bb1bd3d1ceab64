// Package store provides the credential store client used by the validator.
//
// # Architecture
//
// The package is a thin, read-mostly query layer over the external
// credential database. It deliberately contains no validation logic: secret
// hashes are compared, statuses and expiries are checked, and scopes are
// resolved in the auth package. The single write on the validation path is
// TouchAPIKey (last_used_at bookkeeping), which callers treat as best-effort.
//
// # Data Models
//
//   - APIKeyRecord: a stored API key. Only the SHA-256 hex digest of the
//     secret half is persisted (SecretHash); the raw secret never reaches
//     this package.
//   - UserRecord: the key owner / token subject, used for claim enrichment
//     and blocked-user checks.
//
// # Drivers
//
// SQLStore runs against either driver:
//
//   - postgres (lib/pq): the production credential database, externally
//     owned. No schema management is performed.
//   - sqlite (modernc.org/sqlite): local development and tests. The schema
//     is bootstrapped automatically and WAL mode is enabled.
//
// Queries are written once with ?-placeholders and rebound to $n for
// postgres.
//
// # Error Handling
//
//   - ErrNotFound: entity does not exist (a deliberate signal, distinct
//     from connectivity failures which surface as wrapped driver errors)
//   - ErrDuplicateKey: key_id collision on CreateAPIKey
//
// # Testing
//
// Use NewMockStore() for unit tests. It counts lookups so tests can verify
// that the validation cache suppresses store round-trips, and can simulate
// outages via FailLookups/FailPing.
//
// Use NewSQLStore("sqlite", ":memory:") for integration tests against real
// SQL.
package store
