package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/authkeeper/internal/logger"
)

// Logging is a unary interceptor that logs gRPC requests and results.
type Logging struct {
	logger *logger.Logger
}

// NewLogging creates a new Logging middleware.
func NewLogging(logger *logger.Logger) *Logging {
	return &Logging{logger: logger}
}

// HandleGRPC logs method, duration and status code. Client errors are logged
// at warn level and server errors at error level.
func (l *Logging) HandleGRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	code := codeOf(err)
	args := []any{
		"method", info.FullMethod,
		"duration_ms", time.Since(start).Milliseconds(),
		"status", code.String(),
	}

	switch code {
	case codes.OK:
		l.logger.Info("gRPC request completed", args...)
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		l.logger.Error("gRPC request failed", append(args, "error", err.Error())...)
	default:
		l.logger.Warn("gRPC request rejected", append(args, "error", status.Convert(err).Message())...)
	}

	return resp, err
}

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Internal
}
