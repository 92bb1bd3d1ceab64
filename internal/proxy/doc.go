// ABOUTME: Package documentation for the proxy package
// ABOUTME: Describes the authenticating reverse proxy in front of MCP services

// Package proxy implements the authenticating reverse proxy that sits in
// front of a single upstream MCP service.
//
// Requests to the MCP endpoint pass through an Accept-header check, the
// authentication middleware, and finally the forwarder, which strips client
// credentials and hop-by-hop headers before relaying to the upstream.
// Verified identity crosses the trust boundary only through the configured
// allow-list of X-Auth-* headers. Responses stream back with a flush per
// chunk so server-sent events arrive as they are produced.
//
// The /health endpoint is served locally and requires no authentication.
package proxy
