// Package auth provides credential validation for the ragproxy layer.
//
// # Authentication Methods
//
// The package supports the credential forms accepted at the proxy boundary:
//
//   - API keys: "key_id:secret" pairs sent in the X-API-Key header or as
//     "Authorization: ApiKey ...". The store keeps only the SHA-256 digest
//     of the secret half; comparison is constant time.
//
//   - JWT Bearer tokens: "Authorization: Bearer ..." signed with HS256
//     using the configured jwt_secret. Claims are enriched from the stored
//     user record; blocked users are rejected.
//
// # Flow
//
// CredentialFromHeaders decodes the headers once into a tagged Credential
// (APIKeyCredential or TokenCredential); malformed keys fail fast with no
// store I/O. Validator.Validate resolves the credential into a Principal
// and enforces the required scope set. Every failure maps to a single
// reason error (ErrNotFound, ErrRevoked, ErrExpired, ...) and every reason
// surfaces to the caller as a 401 with a deliberately generic message.
//
// # Caching
//
// Positive results are cached for a short TTL keyed by a credential
// fingerprint, so repeated requests with the same credential skip the store
// round trip. The cache is an optimization only: errors are never cached,
// and a cache race costs at most one extra lookup.
//
// # Failure Policy
//
// Store outages fail closed (ErrStoreUnavailable, still a 401) and are
// logged distinctly from a genuine unknown key so operators can tell "bad
// key" from "store down". Audit logging is best-effort and never blocks a
// decision.
package auth
