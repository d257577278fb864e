package grpcx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server with tracing, request id and access log
// interceptors installed.
func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

// HealthReporter mirrors readiness checks into the standard gRPC health
// service, for both the overall ("") and the named service.
type HealthReporter struct {
	server   *health.Server
	service  string
	checks   []runtime.ReadyCheck
	interval time.Duration
	logger   *slog.Logger
}

func RegisterHealth(s *grpc.Server, service string, logger *slog.Logger, checks ...runtime.ReadyCheck) *HealthReporter {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &HealthReporter{server: hs, service: service, checks: checks, interval: 10 * time.Second, logger: logger}
}

// Refresh runs the checks once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if failed := runtime.RunChecks(ctx, h.checks); len(failed) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("readiness checks failing", "checks", strings.Join(failed, ","))
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(h.service, st)
	return st
}

// Run refreshes periodically until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
