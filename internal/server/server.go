// Package server provides the HTTP server for the kilometrage API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/froz-husain/kmstore/internal/config"
	apierrors "github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/handler"
	"github.com/froz-husain/kmstore/internal/health"
	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/froz-husain/kmstore/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// APIPrefix is where the kilometrage routes are mounted.
const APIPrefix = "/api/kilometrage"

// Server is the kilometrage HTTP API.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthChecker
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. m may be nil.
func NewServer(cfg *config.Config, store handler.RecordStore, healthCheck *health.HealthChecker, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(store, errorHandler, logger, cfg.Server.RequestTimeout)

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
		},
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func (s *Server) apiRoutes() []route {
	h := s.handlers
	return []route{
		// registry
		{http.MethodGet, "/params", h.GetParams},
		{http.MethodPut, "/params/{id}/driver", h.AssignDriver},
		{http.MethodPost, "/newid", h.NewRouteID},
		// records
		{http.MethodPost, "/save", h.SaveReading},
		{http.MethodPost, "/absent", h.SaveAbsence},
		{http.MethodGet, "/data", h.GetData},
		{http.MethodGet, "/resume", h.GetResume},
		// layout
		{http.MethodGet, "/sites", h.ListSites},
		{http.MethodGet, "/sites/{site}/periods", h.ListPeriods},
		{http.MethodGet, "/healthz", h.Healthz},
	}
}

// SetupRoutes installs the middleware chain and every route.
func (s *Server) SetupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger, s.metrics),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
		middleware.BodyLimit(s.cfg.Server.MaxBodyBytes),
	}
	if rl := s.cfg.RateLimiter; rl.Enabled {
		chain = append(chain, middleware.NewRateLimiter(rl.RequestsPerSecond, rl.BurstSize, s.logger).Limit)
	}
	s.router.Use(mux.MiddlewareFunc(middleware.Chain(chain...)))

	if s.healthCheck != nil {
		s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	}

	// OPTIONS is accepted on every API route so preflights reach CORS.
	api := s.router.PathPrefix(APIPrefix).Subrouter()
	for _, rt := range s.apiRoutes() {
		api.HandleFunc(rt.path, rt.handler).Methods(rt.method, http.MethodOptions)
	}

	s.router.NotFoundHandler = s.errorRoute(http.StatusNotFound, apierrors.ErrCodeNotFound, "endpoint not found")
	s.router.MethodNotAllowedHandler = s.errorRoute(http.StatusMethodNotAllowed, apierrors.ErrCodeInvalidArgument, "method not allowed")
}

func (s *Server) errorRoute(status int, code apierrors.ErrorCode, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, status, code, msg, r.Header.Get("X-Request-ID"))
	})
}

// Start serves until Shutdown. It never returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("Serving kilometrage API",
		zap.String("addr", s.httpServer.Addr),
		zap.String("prefix", APIPrefix))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Draining HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the router, for tests.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
