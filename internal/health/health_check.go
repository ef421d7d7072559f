package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	checkHealthy  = "healthy"
	checkWarning  = "warning"
	checkCritical = "critical"
)

// Pinger is anything whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker periodically checks the backend and local resources
type HealthChecker struct {
	cfg         HealthCheckConfig
	backend     Pinger
	idempotency Pinger
	pending     func() int
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.ServiceStatus
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
	listeners   []func(ready bool)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	BackendName string
	Interval    time.Duration
	Timeout     time.Duration
	// Scratch is where transfer files are staged; it must stay writable.
	Scratch    afero.Fs
	ScratchDir string
	// PendingWarn marks the queue as congested above this many keys.
	PendingWarn int
}

// NewHealthChecker creates a new health checker. idempotency and m may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, backend Pinger, idempotency Pinger, pending func() int, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	c := *cfg
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Scratch == nil {
		c.Scratch = afero.NewOsFs()
	}
	if c.PendingWarn <= 0 {
		c.PendingWarn = 100
	}
	return &HealthChecker{
		cfg:         c,
		backend:     backend,
		idempotency: idempotency,
		pending:     pending,
		metrics:     m,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: false,
		status:      model.ServiceStatusHealthy,
	}
}

// OnReadinessChange registers fn to be called after every check round.
func (h *HealthChecker) OnReadinessChange(fn func(ready bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	// Run initial check
	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs all health checks once
func (h *HealthChecker) RunChecks(ctx context.Context) {
	results := []CheckResult{
		h.checkBackend(ctx),
		h.checkScratchDir(),
		h.checkWriteQueue(),
	}
	if h.idempotency != nil {
		results = append(results, h.checkIdempotencyStore(ctx))
	}

	h.mu.Lock()
	h.lastCheck = time.Now()

	allHealthy := true
	allReady := true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != checkHealthy {
			allHealthy = false
			if result.Status == checkCritical {
				allReady = false
			}
		}
	}

	switch {
	case allHealthy:
		h.status = model.ServiceStatusHealthy
	case allReady:
		h.status = model.ServiceStatusDegraded
	default:
		h.status = model.ServiceStatusUnhealthy
	}
	h.livenessOK = true
	h.readinessOK = allReady
	status := h.status
	listeners := append([]func(bool){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(allReady)
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))
}

// checkBackend pings the remote backend
func (h *HealthChecker) checkBackend(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := h.backend.Ping(ctx)
	h.metrics.SetBackendUp(err == nil)
	if err != nil {
		h.logger.Warn("Backend ping failed", zap.String("backend", h.cfg.BackendName), zap.Error(err))
		return CheckResult{
			Name:      "remote_backend",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Backend %s unreachable: %v", h.cfg.BackendName, err),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "remote_backend",
		Status:    checkHealthy,
		Message:   fmt.Sprintf("Backend %s reachable in %s", h.cfg.BackendName, time.Since(start).Round(time.Millisecond)),
		Timestamp: time.Now(),
	}
}

// checkScratchDir checks that transfer files can be created
func (h *HealthChecker) checkScratchDir() CheckResult {
	f, err := afero.TempFile(h.cfg.Scratch, h.cfg.ScratchDir, ".health_check_*")
	if err != nil {
		return CheckResult{
			Name:      "scratch_dir",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Cannot write to scratch directory: %v", err),
			Timestamp: time.Now(),
		}
	}
	name := f.Name()
	f.Close()
	h.cfg.Scratch.Remove(name)

	return CheckResult{
		Name:      "scratch_dir",
		Status:    checkHealthy,
		Message:   "Scratch directory is writable",
		Timestamp: time.Now(),
	}
}

// checkWriteQueue flags a backlog of partitions waiting to be written
func (h *HealthChecker) checkWriteQueue() CheckResult {
	pending := 0
	if h.pending != nil {
		pending = h.pending()
	}
	if pending > h.cfg.PendingWarn {
		return CheckResult{
			Name:      "write_queue",
			Status:    checkWarning,
			Message:   fmt.Sprintf("%d partitions have queued writes", pending),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "write_queue",
		Status:    checkHealthy,
		Message:   fmt.Sprintf("%d partitions have queued writes", pending),
		Timestamp: time.Now(),
	}
}

// checkIdempotencyStore pings the idempotency store. Appends still work
// without it, so a failure only degrades the service.
func (h *HealthChecker) checkIdempotencyStore(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	if err := h.idempotency.Ping(ctx); err != nil {
		return CheckResult{
			Name:      "idempotency_store",
			Status:    checkWarning,
			Message:   fmt.Sprintf("Idempotency store unreachable: %v", err),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "idempotency_store",
		Status:    checkHealthy,
		Message:   "Idempotency store reachable",
		Timestamp: time.Now(),
	}
}

// IsLive returns whether the process is live (liveness check)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the service can take traffic (readiness check)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pending := 0
	if h.pending != nil {
		pending = h.pending()
	}
	return model.HealthStatus{
		Backend:       h.cfg.BackendName,
		Status:        h.status,
		Timestamp:     h.lastCheck.Unix(),
		PendingWrites: pending,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	h.readinessOK = ready
	listeners := append([]func(bool){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(ready)
	}
}

// LivenessHandler handles HTTP liveness check requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness check requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":          ready,
		"status":         status.Status,
		"backend":        status.Backend,
		"pending_writes": status.PendingWrites,
		"checks":         h.GetChecks(),
	})
}
