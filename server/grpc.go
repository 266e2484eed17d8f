package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the empty overall name.
const ServiceName = "ecomdash.Dashboard"

// HealthServer exposes the standard grpc health protocol for the dashboard.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewHealthServer(logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &HealthServer{grpc: gs, health: hs, logger: logger}
}

// Serve blocks until ctx is cancelled or lis fails. On cancel every service
// is marked NOT_SERVING before the server stops.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		h.logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
		errc <- h.grpc.Serve(lis)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		h.health.Shutdown()
		h.grpc.GracefulStop()
		h.logger.Info("grpc health stopped")
		return nil
	}
}

// StartGRPC listens on host:port and serves health checks in the background.
func StartGRPC(ctx context.Context, host string, port int, logger *zap.Logger) (<-chan error, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- NewHealthServer(logger).Serve(ctx, lis)
	}()
	return done, nil
}
