package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newChecker(backendErr, idemErr error, pending int) (*HealthChecker, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry(), "memory")
	var idem Pinger
	if idemErr != nil {
		idem = pingFunc(func(context.Context) error { return idemErr })
	}
	h := NewHealthChecker(&HealthCheckConfig{
		BackendName: "memory",
		Scratch:     afero.NewMemMapFs(),
		ScratchDir:  "/scratch",
		PendingWarn: 2,
	}, pingFunc(func(context.Context) error { return backendErr }), idem, func() int { return pending }, m, zap.NewNop())
	return h, m
}

func TestNotReadyBeforeFirstCheck(t *testing.T) {
	h, _ := newChecker(nil, nil, 0)
	assert.True(t, h.IsLive())
	assert.False(t, h.IsReady())
}

func TestHealthyBackend(t *testing.T) {
	h, m := newChecker(nil, nil, 0)

	var notified []bool
	h.OnReadinessChange(func(ready bool) { notified = append(notified, ready) })
	h.RunChecks(context.Background())

	assert.True(t, h.IsReady())
	assert.Equal(t, model.ServiceStatusHealthy, h.GetStatus().Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendUp))
	assert.Equal(t, []bool{true}, notified)
	assert.Len(t, h.GetChecks(), 3)
}

func TestBackendDownIsNotReady(t *testing.T) {
	h, m := newChecker(errors.New("530 login incorrect"), nil, 0)
	h.RunChecks(context.Background())

	assert.False(t, h.IsReady())
	assert.Equal(t, model.ServiceStatusUnhealthy, h.GetStatus().Status)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendUp))
	assert.Equal(t, checkCritical, h.GetChecks()["remote_backend"].Status)
}

func TestCongestionAndIdempotencyOnlyDegrade(t *testing.T) {
	h, _ := newChecker(nil, errors.New("redis down"), 5)
	h.RunChecks(context.Background())

	assert.True(t, h.IsReady())
	assert.Equal(t, model.ServiceStatusDegraded, h.GetStatus().Status)
	assert.Equal(t, 5, h.GetStatus().PendingWrites)
	assert.Equal(t, checkWarning, h.GetChecks()["write_queue"].Status)
	assert.Equal(t, checkWarning, h.GetChecks()["idempotency_store"].Status)
}

func TestReadinessHandler(t *testing.T) {
	h, _ := newChecker(nil, nil, 0)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.RunChecks(context.Background())
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "memory", body["backend"])

	h.SetReadiness(false)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessHandler(t *testing.T) {
	h, _ := newChecker(nil, nil, 0)

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
