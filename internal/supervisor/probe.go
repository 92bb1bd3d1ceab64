// ABOUTME: Responsiveness probe for managed proxy processes.
// ABOUTME: Issues an initialize-shaped JSON-RPC request with a short timeout.

package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Prober checks whether a proxy answers HTTP at all. Any HTTP response,
// including 401 from the auth layer, counts as responsive; only a connect
// failure or timeout does not.
type Prober interface {
	Probe(ctx context.Context, baseURL string) error
}

const probeBody = `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"fleet-probe","version":"1.0"}},"id":0}`

// HTTPProber probes the MCP endpoint of a proxy. The path must match the
// mcp_path the proxies serve.
type HTTPProber struct {
	client *http.Client
	path   string
}

func NewHTTPProber(timeout time.Duration, mcpPath string) *HTTPProber {
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		path:   mcpPath,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+p.path, strings.NewReader(probeBody))
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	return nil
}
