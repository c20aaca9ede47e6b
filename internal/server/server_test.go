package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/tally/internal/telemetry"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, req)
	return resp
}

func TestHealth_AllDependenciesReachable(t *testing.T) {
	ok := func(context.Context) error { return nil }
	s := New(":0", "release", WithHealthCheck("postgres", ok), WithHealthCheck("redis", ok))

	resp := get(s, "/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, map[string]string{"postgres": "connected", "redis": "connected"}, body.Dependencies)
}

func TestHealth_UnreachableDependency(t *testing.T) {
	s := New(":0", "release",
		WithHealthCheck("postgres", func(context.Context) error { return nil }),
		WithHealthCheck("clickhouse", func(context.Context) error { return errors.New("dial timeout") }),
	)

	resp := get(s, "/health")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), `"clickhouse":"unreachable"`)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewManager(telemetry.WithRegistry(registry))
	metrics.RecordRankRefresh("image", telemetry.OutcomeCommitted)

	s := New(":0", "release", WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	resp := get(s, "/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), `tally_rank_refresh_total{outcome="committed",processor="image"} 1`))
}
