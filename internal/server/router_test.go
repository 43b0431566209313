package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/config"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/observability"
	"github.com/heymumford/ztoq-migrate/internal/orchestrator"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s := store.New()
	cfg := config.DefaultConfig()
	cfg.SetProjectKey("PROJ")
	logger := &observability.Logger{Logger: zap.NewNop()}
	health := observability.NewHealthChecker()

	build := func(ctx context.Context, projectKey string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(ctx, orchestrator.Config{
			ProjectKey: projectKey,
			Source:     client.NewFakeSource(),
			Target:     client.NewFakeTarget(),
			Store:      s,
			BatchSize:  cfg.BatchSize,
			MaxWorkers: cfg.MaxWorkers,
			Logger:     logger,
		})
	}

	return New(cfg, s, build, health, logger), s
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatus_ReturnsPhaseSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/PROJ/status", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_started")
}

func TestGetValidationReport_NotFoundWhenNoneRecorded(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/PROJ/validation-report", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartMigrate_AcceptsAndRunsAsync(t *testing.T) {
	srv, s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/PROJ/migrate", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		events, err := s.GetWorkflowEvents(context.Background(), "PROJ")
		return err == nil && len(events) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetEvents_ReturnsRecordedEvents(t *testing.T) {
	srv, s := newTestServer(t)
	event := controlplane.NewWorkflowEvent("PROJ", controlplane.PhaseExtract, "started", "extract started")
	require.NoError(t, s.SaveWorkflowEvent(context.Background(), event))

	req := httptest.NewRequest(http.MethodGet, "/api/projects/PROJ/events", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "started")
}
