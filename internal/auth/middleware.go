// ABOUTME: HTTP middleware enforcing authentication on proxied endpoints
// ABOUTME: Extracts the credential, validates, and denies with uniform 401 JSON

package auth

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of a rejection response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response with the given status. Shared with
// the proxy package so 401/502/504 bodies have the same shape.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message})
}

// Middleware creates an HTTP middleware that authenticates every request
// with the validator and the given scope requirement. Every validation
// failure, scope failures included, is a 401 with a generic message. On
// allow, the Principal is attached to the request context; the original
// credential headers are left for the forwarder to strip.
func Middleware(v *Validator, requiredScopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := CredentialFromHeaders(r.Header)
			if err != nil {
				// Record the rejection; extraction failures never reach the
				// store so the validator audits them here.
				v.audit(r.Context(), "", "none", err)
				WriteError(w, http.StatusUnauthorized, "Unauthorized", DenyMessage(err))
				return
			}

			principal, err := v.Validate(r.Context(), cred, requiredScopes)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "Unauthorized", DenyMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
