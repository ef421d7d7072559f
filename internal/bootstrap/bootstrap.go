// Package bootstrap assembles the record store from configuration. The
// server and the admin CLI share it.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/froz-husain/kmstore/internal/config"
	"github.com/froz-husain/kmstore/internal/health"
	"github.com/froz-husain/kmstore/internal/keys"
	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/froz-husain/kmstore/internal/service"
	"github.com/froz-husain/kmstore/internal/store"
	"github.com/froz-husain/kmstore/internal/transport"
	"github.com/froz-husain/kmstore/internal/writequeue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	Dialer      transport.Dialer
	Client      *transport.RemoteClient
	Queue       *writequeue.Queue
	Idempotency store.IdempotencyStore
	Service     *service.RecordService
	Health      *health.HealthChecker
	Scratch     afero.Fs
	logger      *zap.Logger
}

// Options tweaks wiring for callers that are not the long-running server.
type Options struct {
	// Registerer receives the metrics. nil disables metrics.
	Registerer prometheus.Registerer
	// Scratch overrides the local filesystem used for transfer files.
	Scratch afero.Fs
	// Dialer overrides the backend selected by the configuration.
	Dialer transport.Dialer
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	dialer := opts.Dialer
	if dialer == nil {
		d, err := transport.NewDialer(ctx, BackendConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.NewMetrics(opts.Registerer, dialer.Name())
	}

	scratch := opts.Scratch
	if scratch == nil {
		scratch = afero.NewOsFs()
	}

	client := transport.NewRemoteClient(dialer, transport.Options{
		BaseDir:    cfg.Remote.BaseDir,
		Timeout:    cfg.Remote.Timeout,
		Scratch:    scratch,
		ScratchDir: cfg.Remote.ScratchDir,
	}, m, logger)

	idem, err := newIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		return nil, err
	}

	queue := writequeue.NewQueue(m, logger)
	svc := service.NewRecordService(
		client,
		keys.NewResolver(cfg.Remote.BaseDir),
		queue,
		idem,
		&service.Config{
			YearReadConcurrency: cfg.Store.YearReadConcurrency,
			IdempotencyTTL:      cfg.Idempotency.TTL,
		},
		m,
		logger,
	)

	var idemPinger health.Pinger
	if idem != nil {
		idemPinger = idem
	}
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		BackendName: dialer.Name(),
		Interval:    cfg.Health.Interval,
		Timeout:     cfg.Health.Timeout,
		Scratch:     scratch,
		ScratchDir:  cfg.Remote.ScratchDir,
		PendingWarn: cfg.Health.PendingWarn,
	}, svc, idemPinger, svc.PendingWrites, m, logger)

	logger.Info("Record store initialized",
		zap.String("backend", dialer.Name()),
		zap.String("base_dir", cfg.Remote.BaseDir),
		zap.String("idempotency", cfg.Idempotency.Backend))

	return &App{
		Config:      cfg,
		Metrics:     m,
		Dialer:      dialer,
		Client:      client,
		Queue:       queue,
		Idempotency: idem,
		Service:     svc,
		Health:      checker,
		Scratch:     scratch,
		logger:      logger,
	}, nil
}

// Close releases the idempotency store.
func (a *App) Close() error {
	if a.Idempotency == nil {
		return nil
	}
	return a.Idempotency.Close()
}

// BackendConfig maps the remote section onto the transport factory input.
func BackendConfig(cfg *config.Config) transport.BackendConfig {
	r := cfg.Remote
	return transport.BackendConfig{
		Backend: r.Backend,
		Root:    r.Root,
		FTP: transport.FTPConfig{
			Host:                  r.Host,
			Port:                  r.Port,
			User:                  r.User,
			Password:              r.Password,
			Secure:                r.Secure,
			TLSRejectUnauthorized: r.TLSRejectUnauthorized,
			TLSInsecure:           r.TLSInsecure,
			Timeout:               r.Timeout,
		},
		S3: transport.S3Config{
			Bucket:       r.Bucket,
			Region:       r.Region,
			Endpoint:     r.Endpoint,
			UsePathStyle: r.PathStyle,
		},
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "memory":
		return store.NewMemoryIdempotencyStore(cfg.MaxEntries, logger), nil
	case "redis":
		s, err := store.NewRedisIdempotencyStore(ctx, store.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize idempotency store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported idempotency backend: %s", cfg.Backend)
	}
}
