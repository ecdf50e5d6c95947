package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// RPCRecorder records per-method request counts and latency.
type RPCRecorder interface {
	ObserveRPC(method, code string, d time.Duration)
}

// Metrics is a unary interceptor feeding RPCRecorder.
type Metrics struct {
	recorder RPCRecorder
}

func NewMetrics(recorder RPCRecorder) *Metrics {
	return &Metrics{recorder: recorder}
}

func (m *Metrics) HandleGRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	m.recorder.ObserveRPC(info.FullMethod, codeOf(err).String(), time.Since(start))
	return resp, err
}
