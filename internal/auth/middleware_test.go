// ABOUTME: Tests for the authentication HTTP middleware
// ABOUTME: Covers the concrete allow/deny scenarios and the 401 JSON body shape

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebRobot-Ltd/ultra-rag/internal/store"
)

func doRequest(t *testing.T, v *Validator, scopes []string, mutate func(*http.Request)) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()

	var gotPrincipal *Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()

	Middleware(v, scopes)(handler).ServeHTTP(rec, req)
	return rec, gotPrincipal
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMiddleware_ValidKey_Allow(t *testing.T) {
	m := store.NewMockStore()
	seedKey(t, m, nil)
	v := newTestValidator(t, m, ValidatorOptions{})

	rec, p := doRequest(t, v, []string{"read"}, func(r *http.Request) {
		r.Header.Set("X-API-Key", testKeyID+":"+testKeySecret)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "user-1", p.UserID)
}

func TestMiddleware_ValidKey_MissingScope(t *testing.T) {
	m := store.NewMockStore()
	seedKey(t, m, nil)
	v := newTestValidator(t, m, ValidatorOptions{})

	// Key grants {read}; requiring {admin} denies with 401, not 403.
	rec, p := doRequest(t, v, []string{"admin"}, func(r *http.Request) {
		r.Header.Set("X-API-Key", testKeyID+":"+testKeySecret)
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, p)
	body := decodeError(t, rec)
	assert.Equal(t, "Unauthorized", body["error"])
	assert.Equal(t, "insufficient scope", body["message"])
}

func TestMiddleware_NoCredential(t *testing.T) {
	v := newTestValidator(t, store.NewMockStore(), ValidatorOptions{})

	rec, _ := doRequest(t, v, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Unauthorized", body["error"])
	assert.Contains(t, body["message"], "Authentication required")
}

func TestMiddleware_MalformedKey_NoStoreCall(t *testing.T) {
	m := store.NewMockStore()
	v := newTestValidator(t, m, ValidatorOptions{})

	rec, _ := doRequest(t, v, nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", "bogus")
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "malformed credential", body["message"])
	assert.Zero(t, m.Lookups(), "malformed keys must fail fast without store I/O")
}

func TestMiddleware_UnknownKey_GenericMessage(t *testing.T) {
	m := store.NewMockStore()
	seedKey(t, m, nil)
	v := newTestValidator(t, m, ValidatorOptions{})

	recUnknown, _ := doRequest(t, v, nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", "unknown:secret")
	})
	recBadSecret, _ := doRequest(t, v, nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", testKeyID+":wrong-secret")
	})

	// An attacker probing key ids must see identical responses for
	// "id does not exist" and "id exists, wrong secret".
	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.Equal(t, recUnknown.Body.String(), recBadSecret.Body.String())
}

func TestMiddleware_StoreDown_FailsClosed(t *testing.T) {
	m := store.NewMockStore()
	seedKey(t, m, nil)
	m.FailLookups(assert.AnError)
	v := newTestValidator(t, m, ValidatorOptions{})

	rec, _ := doRequest(t, v, nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", testKeyID+":"+testKeySecret)
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "authentication temporarily unavailable", body["message"])
}
