package grpcx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDMetadataKey carries the same id the HTTP side keeps in
// X-Request-Id. gRPC metadata keys are lowercase.
var RequestIDMetadataKey = strings.ToLower(httpx.RequestIDHeader)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// UnaryServerRequestIDInterceptor adopts the caller's request id, or mints
// one, stores it where httpx.RequestIDFromContext finds it and echoes it in
// the response header.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := incomingRequestID(ctx)
		if id == "" {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(httpx.ContextWithRequestID(ctx, id), req)
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(RequestIDMetadataKey) {
		if v = strings.TrimSpace(v); v != "" && len(v) <= 128 {
			return v
		}
	}
	return ""
}

// UnaryServerLogInterceptor logs every call with its status code. Health
// probes are logged at debug.
func UnaryServerLogInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelInfo
		if info.FullMethod == healthCheckMethod {
			level = slog.LevelDebug
		}
		if err != nil && level == slog.LevelInfo {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc request",
			"request_id", httpx.RequestIDFromContext(ctx),
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
