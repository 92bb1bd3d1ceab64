// ABOUTME: Request forwarding to the upstream MCP service with streaming support.
// ABOUTME: Strips credentials and hop-by-hop headers, injects allow-listed identity headers.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/WebRobot-Ltd/ultra-rag/internal/auth"
)

// Identity headers the forwarder knows how to populate from a principal.
// Only headers present in the configured allow-list are injected.
const (
	HeaderUserID = "X-Auth-User-Id"
	HeaderRole   = "X-Auth-Role"
	HeaderScopes = "X-Auth-Scopes"
	HeaderOrgID  = "X-Auth-Org-Id"
)

// Hop-by-hop headers per RFC 7230 section 6.1. These describe the
// client-to-proxy connection and must not be forwarded upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Credential-bearing headers. The upstream never sees client credentials;
// identity reaches it only through the allow-listed X-Auth-* headers.
var credentialHeaders = []string{
	"Authorization",
	auth.APIKeyHeader,
	"Cookie",
}

// Forwarder relays authenticated requests to a single upstream service.
type Forwarder struct {
	upstream        *url.URL
	client          *http.Client
	timeout         time.Duration
	identityHeaders map[string]bool
	logger          *slog.Logger
}

// NewForwarder creates a forwarder targeting the given upstream base URL.
// identityHeaders is the allow-list of X-Auth-* headers to inject; an empty
// list disables identity forwarding entirely.
func NewForwarder(upstreamURL string, timeout time.Duration, identityHeaders []string, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", upstreamURL)
	}

	allowed := make(map[string]bool, len(identityHeaders))
	for _, h := range identityHeaders {
		allowed[http.CanonicalHeaderKey(h)] = true
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		upstream: u,
		client: &http.Client{
			// No client-level timeout: streaming responses (SSE) stay open
			// far longer than any single request deadline. The per-request
			// context bounds connection and header time instead.
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		timeout:         timeout,
		identityHeaders: allowed,
		logger:          logger.With("component", "forwarder"),
	}, nil
}

// Forward relays the request to the upstream and streams the response back.
// The caller's request context propagates, so a client disconnect cancels
// the upstream request.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) {
	target := *f.upstream
	target.Path = singleJoiningSlash(f.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		auth.WriteError(w, http.StatusBadGateway, "Bad Gateway", "upstream request could not be built")
		return
	}
	upReq.ContentLength = r.ContentLength

	f.prepareHeaders(upReq, r)

	resp, err := f.client.Do(upReq)
	if err != nil {
		f.writeUpstreamError(w, r, err)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	f.streamBody(w, resp)
}

// prepareHeaders copies client headers minus hop-by-hop and credential
// headers, then injects allow-listed identity headers from the principal.
func (f *Forwarder) prepareHeaders(upReq *http.Request, r *http.Request) {
	for k, vv := range r.Header {
		upReq.Header[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		upReq.Header.Del(h)
	}
	for _, h := range credentialHeaders {
		upReq.Header.Del(h)
	}
	// Never trust client-supplied identity headers.
	upReq.Header.Del(HeaderUserID)
	upReq.Header.Del(HeaderRole)
	upReq.Header.Del(HeaderScopes)
	upReq.Header.Del(HeaderOrgID)

	principal := auth.FromContext(r.Context())
	if principal == nil {
		return
	}
	f.setIdentityHeader(upReq, HeaderUserID, principal.UserID)
	f.setIdentityHeader(upReq, HeaderRole, principal.Role)
	f.setIdentityHeader(upReq, HeaderScopes, strings.Join(principal.Scopes, ","))
	f.setIdentityHeader(upReq, HeaderOrgID, principal.OrganizationID)
}

func (f *Forwarder) setIdentityHeader(upReq *http.Request, name, value string) {
	if value == "" || !f.identityHeaders[name] {
		return
	}
	upReq.Header.Set(name, value)
}

// writeUpstreamError maps upstream failures to 502 or 504. Timeouts become
// 504 Gateway Timeout; everything else (connection refused, DNS) is 502.
func (f *Forwarder) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// Client went away; nothing useful to write.
		f.logger.Debug("client disconnected during forward", "path", r.URL.Path)
		return
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		f.logger.Warn("upstream timeout", "upstream", f.upstream.Host, "error", err)
		auth.WriteError(w, http.StatusGatewayTimeout, "Gateway Timeout", "upstream service did not respond in time")
		return
	}

	f.logger.Warn("upstream unreachable", "upstream", f.upstream.Host, "error", err)
	auth.WriteError(w, http.StatusBadGateway, "Bad Gateway", "upstream service is unavailable")
}

// streamBody copies the upstream body to the client, flushing after each
// chunk so server-sent events are delivered as they arrive.
func (f *Forwarder) streamBody(w http.ResponseWriter, resp *http.Response) {
	flusher, canFlush := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				f.logger.Debug("upstream body read ended", "error", err)
			}
			return
		}
	}
}

// copyResponseHeaders copies upstream response headers minus hop-by-hop ones.
func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}
