package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"LendLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	failures := h.RunChecks(context.Background())
	assert.Equal(t, map[string]string{"postgres": "connection refused"}, failures)
}

func TestLiveness(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestMetrics_PrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.CoreEventsApplied.WithLabelValues("BorrowRequest").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoreEventsApplied.WithLabelValues("BorrowRequest")))

	// a second set on another registry does not collide
	require.NotPanics(t, func() { observability.NewMetrics(prometheus.NewRegistry()) })
}
