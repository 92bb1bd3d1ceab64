// ABOUTME: Aggregate health HTTP server for the fleet supervisor.
// ABOUTME: Publishes per-service state summaries from supervisor snapshots.

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
)

// healthSummary is the response body of GET /health.
type healthSummary struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Services map[string]string `json:"services"`
}

// HealthServer exposes the supervisor's state to orchestrators and the
// status CLI.
type HealthServer struct {
	sup    *Supervisor
	server *http.Server
	logger *slog.Logger
}

func NewHealthServer(sup *Supervisor, addr string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{sup: sup, logger: logger.With("component", "health")}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/services", h.handleServices).Methods(http.MethodGet)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Handler exposes the router for tests.
func (h *HealthServer) Handler() http.Handler { return h.server.Handler }

// Run serves until the context is canceled.
func (h *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := h.server.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// handleHealth summarizes per-service states. Status degrades to "degraded"
// when any process is not running.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.sup.Snapshot()

	status := "healthy"
	services := make(map[string]string, len(snapshot))
	for _, p := range snapshot {
		key := p.ServiceName
		if p.Role == RoleProxy {
			key += "-proxy"
		}
		services[key] = string(p.State)
		if p.State != StateRunning {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthSummary{
		Status:   status,
		Service:  "ragfleet",
		Services: services,
	})
}

// handleServices returns the full managed-process snapshot, sorted for
// stable output.
func (h *HealthServer) handleServices(w http.ResponseWriter, r *http.Request) {
	snapshot := h.sup.Snapshot()
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].ServiceName != snapshot[j].ServiceName {
			return snapshot[i].ServiceName < snapshot[j].ServiceName
		}
		return snapshot[i].Role < snapshot[j].Role
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snapshot)
}
