// Package observability provides gRPC interceptors for metrics and logging,
// and the ops HTTP server for metrics and probes.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/voicebridge/call-gateway/internal/observability/metrics"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor returns a gRPC unary interceptor for metrics and logging.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(m, info.FullMethod, "unary", err, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and logging.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(m, info.FullMethod, "stream", err, time.Since(start))
		return err
	}
}

func observe(m *metrics.Metrics, method, kind string, err error, duration time.Duration) {
	code := status.Code(err)
	m.RecordGRPCRequest(method, code.String())

	log.WithLevel(rpcLogLevel(method, code)).
		Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("gRPC call completed")
}

// rpcLogLevel keeps orchestrator health polling out of the info log. Failed
// calls are always logged at warn.
func rpcLogLevel(method string, code codes.Code) zerolog.Level {
	switch {
	case code != codes.OK && code != codes.Canceled:
		return zerolog.WarnLevel
	case strings.HasPrefix(method, healthServicePrefix):
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
