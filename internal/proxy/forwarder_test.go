// ABOUTME: Tests for the upstream forwarder
// ABOUTME: Covers header stripping, identity injection, streaming, and error mapping

package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebRobot-Ltd/ultra-rag/internal/auth"
)

var allIdentityHeaders = []string{HeaderUserID, HeaderRole, HeaderScopes, HeaderOrgID}

func newTestForwarder(t *testing.T, upstreamURL string, identityHeaders []string) *Forwarder {
	t.Helper()
	f, err := NewForwarder(upstreamURL, 2*time.Second, identityHeaders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return f
}

func TestForwarder_RelaysBodyAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"jsonrpc":"2.0","method":"tools/list","id":1}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	rec := httptest.NewRecorder()
	f.Forward(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, rec.Body.String())
}

func TestForwarder_StripsCredentialHeaders(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(auth.APIKeyHeader, "abc:def")
	req.Header.Set("Cookie", "session=xyz")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Request-Id", "req-1")
	f.Forward(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Empty(t, seen.Get("Authorization"))
	assert.Empty(t, seen.Get(auth.APIKeyHeader))
	assert.Empty(t, seen.Get("Cookie"))
	assert.Equal(t, "req-1", seen.Get("X-Request-Id"))
}

func TestForwarder_InjectsAllowListedIdentity(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL, []string{HeaderUserID, HeaderScopes})

	principal := &auth.Principal{
		UserID:         "user-7",
		Role:           "developer",
		Scopes:         []string{"read", "write"},
		OrganizationID: "org-1",
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), principal))
	f.Forward(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Equal(t, "user-7", seen.Get(HeaderUserID))
	assert.Equal(t, "read,write", seen.Get(HeaderScopes))
	// Not allow-listed, must not cross.
	assert.Empty(t, seen.Get(HeaderRole))
	assert.Empty(t, seen.Get(HeaderOrgID))
}

func TestForwarder_DropsClientSuppliedIdentityHeaders(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL, allIdentityHeaders)

	// No principal in context: a client faking identity headers gets nothing through.
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(HeaderUserID, "spoofed-admin")
	req.Header.Set(HeaderRole, "super_admin")
	f.Forward(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Empty(t, seen.Get(HeaderUserID))
	assert.Empty(t, seen.Get(HeaderRole))
}

func TestForwarder_UnreachableUpstreamIs502(t *testing.T) {
	// Closed port: connection refused.
	f := newTestForwarder(t, "http://127.0.0.1:1", nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	f.Forward(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestForwarder_SlowUpstreamIs504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer upstream.Close()

	f, err := NewForwarder(upstream.URL, 50*time.Millisecond, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	f.Forward(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestForwarder_StreamsEventStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte("data: {\"chunk\":1}\n\n"))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	f.Forward(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "data: "))
	assert.True(t, rec.Flushed)
}

func TestNewForwarder_RejectsRelativeURL(t *testing.T) {
	_, err := NewForwarder("not-a-url", time.Second, nil, nil)
	require.Error(t, err)
}

func TestSingleJoiningSlash(t *testing.T) {
	assert.Equal(t, "/mcp", singleJoiningSlash("", "/mcp"))
	assert.Equal(t, "/base/mcp", singleJoiningSlash("/base", "/mcp"))
	assert.Equal(t, "/base/mcp", singleJoiningSlash("/base/", "/mcp"))
	assert.Equal(t, "/base", singleJoiningSlash("/base", ""))
}
