// ABOUTME: Credential tagged union and header extraction
// ABOUTME: Decodes X-API-Key / Authorization headers once at the boundary

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Credential is a parsed inbound credential. It is ephemeral: decoded once
// per request from headers and never persisted or logged in raw form.
type Credential interface {
	// Fingerprint returns a stable digest of the credential for cache
	// keying. The raw secret never appears in the fingerprint.
	Fingerprint() string

	isCredential()
}

// APIKeyCredential is an API key in key_id:secret form.
type APIKeyCredential struct {
	ID     string
	Secret string
}

func (c APIKeyCredential) isCredential() {}

// Fingerprint returns a digest of the full key pair.
func (c APIKeyCredential) Fingerprint() string {
	return fingerprint("apikey", c.ID+":"+c.Secret)
}

// TokenCredential is a raw bearer token (JWT).
type TokenCredential struct {
	Raw string
}

func (c TokenCredential) isCredential() {}

// Fingerprint returns a digest of the raw token.
func (c TokenCredential) Fingerprint() string {
	return fingerprint("bearer", c.Raw)
}

func fingerprint(kind, raw string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + raw))
	return hex.EncodeToString(sum[:])
}

// Header names recognized for authentication.
const (
	APIKeyHeader        = "X-API-Key"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	apiKeyPrefix        = "ApiKey "
)

// CredentialFromHeaders extracts a credential from request headers.
//
// Extraction order: X-API-Key first, then Authorization: Bearer, then
// Authorization: ApiKey. An API key that is not in key_id:secret shape is
// rejected here, before any store I/O.
//
// Returns ErrMissingCredential when no recognized header is present and
// ErrMalformedCredential for present-but-unparseable values.
func CredentialFromHeaders(h http.Header) (Credential, error) {
	if raw := strings.TrimSpace(h.Get(APIKeyHeader)); raw != "" {
		return parseAPIKey(raw)
	}

	authValue := strings.TrimSpace(h.Get(authorizationHeader))
	if authValue == "" {
		return nil, ErrMissingCredential
	}

	switch {
	case strings.HasPrefix(authValue, bearerPrefix):
		token := strings.TrimSpace(strings.TrimPrefix(authValue, bearerPrefix))
		if token == "" {
			return nil, ErrMalformedCredential
		}
		return TokenCredential{Raw: token}, nil
	case strings.HasPrefix(authValue, apiKeyPrefix):
		return parseAPIKey(strings.TrimSpace(strings.TrimPrefix(authValue, apiKeyPrefix)))
	default:
		return nil, ErrMalformedCredential
	}
}

// parseAPIKey splits a raw API key into its key_id and secret halves.
func parseAPIKey(raw string) (Credential, error) {
	id, secret, ok := strings.Cut(raw, ":")
	if !ok || id == "" || secret == "" {
		return nil, ErrMalformedCredential
	}
	return APIKeyCredential{ID: id, Secret: secret}, nil
}
