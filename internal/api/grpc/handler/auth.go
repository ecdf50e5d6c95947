package handler

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/authkeeper/internal/api/grpc/authv1"
	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/model"
)

// AuthService defines account and session operations.
type AuthService interface {
	Register(ctx context.Context, email, password string) (model.AuthResult, error)
	Login(ctx context.Context, email, password string) (model.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (model.AuthResult, error)
	Logout(ctx context.Context, userID uuid.UUID) (model.LogoutResult, error)
	Profile(ctx context.Context, userID uuid.UUID) (model.PublicUser, error)
}

var _ authv1.AuthServer = (*Auth)(nil)

// Auth handles gRPC endpoints for authentication.
type Auth struct {
	authv1.UnimplementedAuthServer
	authService    AuthService
	contextManager model.ContextManager
	logger         *logger.Logger
}

// NewAuth creates a new Auth handler.
func NewAuth(authService AuthService, contextManager model.ContextManager, logger *logger.Logger) *Auth {
	return &Auth{
		authService:    authService,
		contextManager: contextManager,
		logger:         logger,
	}
}

// Register creates an account and returns its first token pair.
func (h *Auth) Register(ctx context.Context, req *authv1.RegisterRequest) (*authv1.AuthResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	result, err := h.authService.Register(ctx, req.Email, req.Password)
	if err != nil {
		h.logger.Debug("Auth handler: register failed", "email", req.Email, "error", err.Error())
		return nil, handleError(err)
	}

	return toAuthResponse(result), nil
}

// Login verifies the password and returns a fresh token pair.
func (h *Auth) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.AuthResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	result, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.logger.Debug("Auth handler: login failed", "email", req.Email, "error", err.Error())
		return nil, handleError(err)
	}

	return toAuthResponse(result), nil
}

// Refresh rotates the refresh token.
func (h *Auth) Refresh(ctx context.Context, req *authv1.RefreshRequest) (*authv1.AuthResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	result, err := h.authService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.logger.Debug("Auth handler: refresh failed", "error", err.Error())
		return nil, handleError(err)
	}

	return toAuthResponse(result), nil
}

// Logout revokes every refresh token of the caller.
func (h *Auth) Logout(ctx context.Context, _ *authv1.LogoutRequest) (*authv1.LogoutResponse, error) {
	principal, ok := h.contextManager.GetPrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}

	result, err := h.authService.Logout(ctx, principal.Subject)
	if err != nil {
		return nil, handleError(err)
	}

	return &authv1.LogoutResponse{Success: result.Success}, nil
}

// Profile returns the caller's account.
func (h *Auth) Profile(ctx context.Context, _ *authv1.ProfileRequest) (*authv1.ProfileResponse, error) {
	principal, ok := h.contextManager.GetPrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}

	user, err := h.authService.Profile(ctx, principal.Subject)
	if err != nil {
		return nil, handleError(err)
	}

	return &authv1.ProfileResponse{User: toUser(user)}, nil
}

func toUser(u model.PublicUser) authv1.User {
	return authv1.User{
		ID:    u.ID.String(),
		Email: u.Email,
		Role:  string(u.Role),
	}
}

func toAuthResponse(r model.AuthResult) *authv1.AuthResponse {
	return &authv1.AuthResponse{
		User:         toUser(r.User),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
}
