// ABOUTME: HTTP server for the authenticating MCP proxy.
// ABOUTME: Routes the MCP endpoint through auth and forwards, serves local health.

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/WebRobot-Ltd/ultra-rag/internal/auth"
	"github.com/WebRobot-Ltd/ultra-rag/internal/config"
)

const shutdownTimeout = 5 * time.Second

// jsonRPCError is the JSON-RPC 2.0 error envelope used for protocol-level
// rejections on the MCP endpoint.
type jsonRPCError struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      string       `json:"id"`
	Error   jsonRPCCause `json:"error"`
}

type jsonRPCCause struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server is the authenticating proxy in front of one upstream MCP service.
type Server struct {
	cfg        config.ServerConfig
	validator  *auth.Validator
	forwarder  *Forwarder
	router     *mux.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the proxy routes. validator may be nil, in which case the
// MCP endpoint forwards without authentication (dev fleets only).
func NewServer(cfg config.Config, validator *auth.Validator, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fwd, err := NewForwarder(cfg.Server.UpstreamURL, cfg.Server.RequestTimeout, cfg.Auth.IdentityHeaders, logger)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}

	s := &Server{
		cfg:       cfg.Server,
		validator: validator,
		forwarder: fwd,
		router:    mux.NewRouter(),
		logger:    logger.With("component", "proxy", "service", cfg.Server.ServiceName),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	var mcpHandler http.Handler = http.HandlerFunc(s.handleMCP)
	if validator != nil {
		mcpHandler = auth.Middleware(validator, cfg.Auth.RequiredScopes)(mcpHandler)
	}
	s.router.Handle(s.cfg.MCPPath, requireMCPAccept(mcpHandler)).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the router for tests and for embedding in the supervisor.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the proxy and blocks until the context is canceled or the
// listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", "addr", ln.Addr().String(), "upstream", s.cfg.UpstreamURL)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down proxy")
	case serverErr = <-errCh:
		s.logger.Error("proxy server error", "error", serverErr)
	}

	// Fresh context: the run context is already canceled by this point.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// handleHealth reports proxy liveness. It never touches the credential store
// or the upstream, so it stays green while either of those is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": s.cfg.ServiceName,
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	s.forwarder.Forward(w, r)
}

// requireMCPAccept rejects requests whose Accept header does not include both
// application/json and text/event-stream, matching MCP streamable HTTP
// transport requirements. The rejection body is a JSON-RPC error so MCP
// clients can parse it.
func requireMCPAccept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !acceptsMediaType(accept, "application/json") || !acceptsMediaType(accept, "text/event-stream") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(jsonRPCError{
				JSONRPC: "2.0",
				ID:      "server-error",
				Error: jsonRPCCause{
					Code:    -32600,
					Message: "Not Acceptable: Client must accept both application/json and text/event-stream",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// acceptsMediaType reports whether the Accept header value includes the given
// media type, either literally or via a matching wildcard.
func acceptsMediaType(accept, mediaType string) bool {
	if accept == "" {
		return false
	}
	prefix := mediaType[:strings.Index(mediaType, "/")]
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(part)
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if mt == mediaType || mt == "*/*" || mt == prefix+"/*" {
			return true
		}
	}
	return false
}
