package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the store.
const ServiceName = "kmstore.RecordStore"

// GRPCHealthServer exposes readiness through the standard gRPC health
// protocol so orchestrators can check it without HTTP.
type GRPCHealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int
	logger     *zap.Logger
}

// NewGRPCHealthServer creates a gRPC server carrying only the health service.
// Both the overall status and ServiceName start as NOT_SERVING.
func NewGRPCHealthServer(port int, logger *zap.Logger) *GRPCHealthServer {
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	s := &GRPCHealthServer{
		grpcServer: grpcServer,
		health:     hs,
		port:       port,
		logger:     logger,
	}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status. It matches the readiness
// listener signature of the health checker.
func (s *GRPCHealthServer) SetServing(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on the configured port and blocks until Stop.
func (s *GRPCHealthServer) Serve() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener.
func (s *GRPCHealthServer) ServeListener(listener net.Listener) error {
	s.logger.Info("gRPC health service starting", zap.String("address", listener.Addr().String()))
	return s.grpcServer.Serve(listener)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *GRPCHealthServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
