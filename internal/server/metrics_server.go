package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultSampleInterval = 15 * time.Second

// MetricsServerConfig holds configuration for the metrics listener.
type MetricsServerConfig struct {
	Port int
	Path string
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// SampleInterval controls how often runtime stats are refreshed.
	SampleInterval time.Duration
}

// MetricsServer exposes the registry on its own port, apart from the API.
type MetricsServer struct {
	srv      *http.Server
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewMetricsServer builds a metrics server. Nothing listens until Start.
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		metrics:  m,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Handler returns the metrics HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the configured port and serves in the background.
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	s.ServeListener(lis)
	return nil
}

// ServeListener serves on an already bound listener.
func (s *MetricsServer) ServeListener(lis net.Listener) {
	s.logger.Info("Serving metrics", zap.String("addr", lis.Addr().String()))

	go s.sampleLoop()
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop ends the sampler and drains the listener.
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

func (s *MetricsServer) sampleLoop() {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sampleRuntime()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.sampleRuntime()
		}
	}
}

func (s *MetricsServer) sampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.metrics.UpdateSystemStats(int64(ms.HeapAlloc), runtime.NumGoroutine())
}
