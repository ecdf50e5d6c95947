package router

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/dtroode/authkeeper/internal/api/grpc/authv1"
	"github.com/dtroode/authkeeper/internal/api/grpc/handler"
	"github.com/dtroode/authkeeper/internal/api/grpc/middleware"
	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/model"
)

// Router wires the Auth service, interceptors, health and reflection into
// a gRPC server.
type Router struct {
	authService    handler.AuthService
	tokenService   middleware.TokenService
	recorder       middleware.RPCRecorder
	contextManager model.ContextManager
	logger         *logger.Logger
	health         *health.Server
}

// New creates Router. Nil recorder disables RPC metrics.
func New(
	authService handler.AuthService,
	tokenService middleware.TokenService,
	recorder middleware.RPCRecorder,
	contextManager model.ContextManager,
	logger *logger.Logger,
) *Router {
	return &Router{
		authService:    authService,
		tokenService:   tokenService,
		recorder:       recorder,
		contextManager: contextManager,
		logger:         logger,
		health:         health.NewServer(),
	}
}

// authRequired selects the methods that need a bearer access token.
func authRequired(_ context.Context, c interceptors.CallMeta) bool {
	switch c.FullMethod() {
	case authv1.Auth_Logout_FullMethodName, authv1.Auth_Profile_FullMethodName:
		return true
	default:
		return false
	}
}

// Register builds the gRPC server with all services registered.
func (r *Router) Register(opts ...grpc.ServerOption) *grpc.Server {
	logging := middleware.NewLogging(r.logger)
	authenticate := middleware.NewAuthenticate(r.tokenService, r.contextManager, r.logger)

	unary := []grpc.UnaryServerInterceptor{logging.HandleGRPC}
	if r.recorder != nil {
		unary = append(unary, middleware.NewMetrics(r.recorder).HandleGRPC)
	}
	unary = append(unary, selector.UnaryServerInterceptor(
		auth.UnaryServerInterceptor(authenticate.AuthFunc),
		selector.MatchFunc(authRequired),
	))

	s := grpc.NewServer(append(opts, grpc.ChainUnaryInterceptor(unary...))...)

	authv1.RegisterAuthServer(s, handler.NewAuth(r.authService, r.contextManager, r.logger))

	healthpb.RegisterHealthServer(s, r.health)
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.health.SetServingStatus(authv1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(s)

	return s
}

// Shutdown reports NOT_SERVING to health checkers ahead of a graceful stop.
func (r *Router) Shutdown() {
	r.health.Shutdown()
}
