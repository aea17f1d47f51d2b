package grpc

import (
	"context"
	"log"
	"path"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/spanlens/spanlens/internal/observability"
)

// StatsInterceptor records every unary call in stats. Failed calls are
// logged with their request ID.
func StatsInterceptor(stats *observability.CallStats) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if stats != nil {
			stats.RecordCall("grpc."+path.Base(info.FullMethod), time.Since(start), err)
		}
		if err != nil {
			log.Printf("[%s] %s failed: %s", extractRequestID(ctx), info.FullMethod, status.Convert(err).Message())
		}
		return resp, err
	}
}

// NewServer creates a gRPC server with tracing and call statistics wired in
// and the timeline service registered.
func NewServer(srv TimelineServiceServer, stats *observability.CallStats, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(StatsInterceptor(stats)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterTimelineServiceServer(s, srv)
	return s
}
