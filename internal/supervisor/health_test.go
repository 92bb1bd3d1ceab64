// ABOUTME: Tests for the aggregate health server
// ABOUTME: Covers healthy/degraded summaries and the detailed services view

package supervisor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebRobot-Ltd/ultra-rag/internal/config"
)

func newHealthFixture(t *testing.T) (*Supervisor, *fakeLauncher, *HealthServer) {
	t.Helper()
	launcher := newFakeLauncher()
	cfg := testConfig(
		config.ServiceConfig{Name: "generator", Port: 9082, Command: "python"},
		config.ServiceConfig{Name: "retriever", Port: 9081, ProxyPort: 8081, Auth: true, Command: "python"},
	)
	sup := newTestSupervisor(t, cfg, launcher, newFakeProber())
	require.NoError(t, sup.StartAll(context.Background()))

	hs := NewHealthServer(sup, "127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	return sup, launcher, hs
}

func TestHealth_AllRunning(t *testing.T) {
	_, _, hs := newHealthFixture(t)

	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ragfleet", body.Service)
	assert.Equal(t, "running", body.Services["generator"])
	assert.Equal(t, "running", body.Services["retriever"])
	assert.Equal(t, "running", body.Services["retriever-proxy"])
}

func TestHealth_DegradedWhenProcessDead(t *testing.T) {
	sup, launcher, hs := newHealthFixture(t)

	launcher.handle(0).die()
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // record the crash without restarting
	sup.monitorOnce(ctx)

	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "crashed", body.Services["generator"])
}

func TestHealth_ServicesDetailSorted(t *testing.T) {
	_, _, hs := newHealthFixture(t)

	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var procs []ManagedProcess
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &procs))
	require.Len(t, procs, 3)
	assert.Equal(t, "generator", procs[0].ServiceName)
	assert.Equal(t, "retriever", procs[1].ServiceName)
	assert.Equal(t, RoleProxy, procs[1].Role)
	assert.Equal(t, RoleUpstream, procs[2].Role)
	for _, p := range procs {
		assert.NotZero(t, p.PID)
		assert.NotZero(t, p.StartTime)
	}
}
