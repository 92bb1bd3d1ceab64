// ABOUTME: Validation failure reasons and their caller-facing messages
// ABOUTME: Every reason maps uniformly to 401 with a non-leaking message

package auth

import "errors"

// Validation errors. Every one of these surfaces to the caller as HTTP 401;
// the distinction exists for logging and tests, not for the wire.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrNotFound            = errors.New("credential not found")
	ErrRevoked             = errors.New("credential revoked")
	ErrExpired             = errors.New("credential expired")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrInsufficientScope   = errors.New("insufficient scope")

	// ErrStoreUnavailable is a transient dependency failure: the credential
	// store could not be reached. Validation fails closed, and the error is
	// logged distinctly so operators can tell "bad key" from "store down".
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// DenyMessage returns the human-readable message sent to the caller for a
// validation error. Messages are deliberately generic: a caller must not be
// able to tell whether a key id exists or which part of validation failed.
func DenyMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "Authentication required. Provide a valid API key or bearer token."
	case errors.Is(err, ErrMalformedCredential):
		return "malformed credential"
	case errors.Is(err, ErrExpired):
		return "credential expired"
	case errors.Is(err, ErrInsufficientScope):
		return "insufficient scope"
	case errors.Is(err, ErrStoreUnavailable):
		return "authentication temporarily unavailable"
	default:
		// not_found, revoked and signature_invalid all collapse to the same
		// message so probing for valid key ids reveals nothing.
		return "invalid credential"
	}
}
