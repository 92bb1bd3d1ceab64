// ABOUTME: Credential validation against the credential store and JWT verifier
// ABOUTME: Resolves a Principal or a reason error; positive results are TTL-cached

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WebRobot-Ltd/ultra-rag/internal/store"
)

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// CacheTTL bounds the positive-result cache. Zero disables caching.
	CacheTTL time.Duration

	// DevAPIKey, when set, is a full key_id:secret string accepted without a
	// store lookup. Development convenience only.
	DevAPIKey    string
	DevUserID    string
	DevRole      string
	DevScopes    []string
	DevOrgID     string

	Auditor Auditor
	Logger  *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

// Validator resolves credentials into principals. It is read-only against
// the store apart from best-effort last_used_at touches, and is safe for
// concurrent use.
type Validator struct {
	store   store.Store
	tokens  *JWTVerifier // nil when bearer tokens are not configured
	cache   *resultCache
	auditor Auditor
	logger  *slog.Logger
	opts    ValidatorOptions
	now     func() time.Time
}

// NewValidator creates a Validator over the given store. tokens may be nil,
// in which case bearer tokens are rejected as invalid.
func NewValidator(st store.Store, tokens *JWTVerifier, opts ValidatorOptions) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	v := &Validator{
		store:   st,
		tokens:  tokens,
		cache:   newResultCache(opts.CacheTTL),
		auditor: opts.Auditor,
		logger:  logger.With("component", "validator"),
		opts:    opts,
		now:     now,
	}
	v.cache.now = now
	return v
}

// Validate resolves the credential into a Principal and enforces the
// required scopes. On failure it returns one of the reason errors from
// errors.go; the caller maps every one of them to a 401.
func (v *Validator) Validate(ctx context.Context, cred Credential, requiredScopes []string) (*Principal, error) {
	if cred == nil {
		v.audit(ctx, "", "none", ErrMissingCredential)
		return nil, ErrMissingCredential
	}

	principal, err := v.resolve(ctx, cred)
	if err != nil {
		v.audit(ctx, subjectOf(cred), methodOf(cred), err)
		return nil, err
	}

	if len(requiredScopes) > 0 && !principal.HasScopes(requiredScopes) {
		v.audit(ctx, principal.UserID, principal.AuthMethod, ErrInsufficientScope)
		return nil, ErrInsufficientScope
	}

	v.audit(ctx, principal.UserID, principal.AuthMethod, nil)
	return principal, nil
}

// resolve turns a credential into a Principal, consulting the cache first.
// Scope enforcement happens in Validate so one cache entry serves requests
// with different scope requirements.
func (v *Validator) resolve(ctx context.Context, cred Credential) (*Principal, error) {
	fp := cred.Fingerprint()
	if p, ok := v.cache.get(fp); ok {
		return p, nil
	}

	var (
		principal *Principal
		err       error
	)
	switch c := cred.(type) {
	case APIKeyCredential:
		principal, err = v.validateAPIKey(ctx, c)
	case TokenCredential:
		principal, err = v.validateToken(ctx, c)
	default:
		return nil, ErrMalformedCredential
	}
	if err != nil {
		return nil, err
	}

	// Only positive results are cached. Errors, transient store failures in
	// particular, must re-check on the next request.
	v.cache.put(fp, principal)
	return principal, nil
}

// validateAPIKey checks an API key against the store: record lookup,
// constant-time digest comparison, status, then expiry.
func (v *Validator) validateAPIKey(ctx context.Context, cred APIKeyCredential) (*Principal, error) {
	if p := v.devPrincipal(cred); p != nil {
		v.logger.Debug("dev api key accepted")
		return p, nil
	}

	rec, err := v.store.GetAPIKey(ctx, cred.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		v.logger.Error("credential store lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !verifySecret(cred.Secret, rec.SecretHash) {
		return nil, ErrSignatureInvalid
	}

	switch rec.Status {
	case store.KeyStatusActive:
	case store.KeyStatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrRevoked
	}

	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(v.now()) {
		return nil, ErrExpired
	}

	// last_used_at bookkeeping is best-effort; a failure must not affect
	// the decision.
	if err := v.store.TouchAPIKey(ctx, rec.KeyID); err != nil {
		v.logger.Debug("touching api key failed", "key_id", rec.KeyID, "error", err)
	}

	role := rec.Role
	if role == "" {
		role = "authenticated"
	}
	scopes := rec.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopesForRole(role)
	}

	return &Principal{
		UserID:         rec.OwnerID,
		Role:           role,
		Scopes:         scopes,
		OrganizationID: rec.OrganizationID,
		AuthMethod:     "api_key",
	}, nil
}

// validateToken verifies a bearer token and enriches the claims with the
// stored user record.
func (v *Validator) validateToken(ctx context.Context, cred TokenCredential) (*Principal, error) {
	if v.tokens == nil {
		return nil, ErrSignatureInvalid
	}

	principal, err := v.tokens.Verify(cred.Raw)
	if err != nil {
		return nil, err
	}

	user, err := v.store.GetUser(ctx, principal.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		v.logger.Error("credential store lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if user.Blocked {
		return nil, ErrRevoked
	}

	if principal.Username == "" {
		principal.Username = user.Username
	}
	if principal.Email == "" {
		principal.Email = user.Email
	}
	if principal.OrganizationID == "" {
		principal.OrganizationID = user.OrganizationID
	}
	if principal.Role == "authenticated" && user.Role != "" {
		principal.Role = user.Role
	}
	if len(principal.Scopes) == 0 {
		principal.Scopes = defaultScopesForRole(principal.Role)
	}

	return principal, nil
}

// devPrincipal returns the configured development principal when the
// credential matches the dev API key, nil otherwise.
func (v *Validator) devPrincipal(cred APIKeyCredential) *Principal {
	if v.opts.DevAPIKey == "" {
		return nil
	}
	raw := cred.ID + ":" + cred.Secret
	if subtle.ConstantTimeCompare([]byte(raw), []byte(v.opts.DevAPIKey)) != 1 {
		return nil
	}

	role := v.opts.DevRole
	if role == "" {
		role = "super_admin"
	}
	scopes := v.opts.DevScopes
	if len(scopes) == 0 {
		scopes = defaultScopesForRole(role)
	}
	return &Principal{
		UserID:         v.opts.DevUserID,
		Role:           role,
		Scopes:         scopes,
		OrganizationID: v.opts.DevOrgID,
		AuthMethod:     "api_key",
	}
}

// HealthCheck reports credential store connectivity.
func (v *Validator) HealthCheck(ctx context.Context) error {
	return v.store.Ping(ctx)
}

func (v *Validator) audit(ctx context.Context, subject, method string, reason error) {
	if v.auditor == nil {
		return
	}
	rec := AuditRecord{
		Subject:   subject,
		Method:    method,
		Outcome:   OutcomeAllow,
		Timestamp: v.now().UTC(),
	}
	if reason != nil {
		rec.Outcome = OutcomeDeny
		rec.Reason = reason.Error()
	}
	v.auditor.Record(ctx, rec)
}

// HashSecret returns the hex SHA-256 digest used for stored secret hashes.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// verifySecret compares the supplied secret against the stored digest in
// constant time.
func verifySecret(secret, storedHash string) bool {
	digest := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}

// subjectOf returns a loggable subject for a credential: the key id for API
// keys, empty for tokens (the subject is unknown until verification).
func subjectOf(cred Credential) string {
	if c, ok := cred.(APIKeyCredential); ok {
		return c.ID
	}
	return ""
}

func methodOf(cred Credential) string {
	switch cred.(type) {
	case APIKeyCredential:
		return "api_key"
	case TokenCredential:
		return "bearer"
	default:
		return "none"
	}
}
