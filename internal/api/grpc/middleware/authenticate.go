package middleware

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/model"
)

var (
	errMissingToken = errors.New("missing authorization token")
	errInvalidToken = errors.New("invalid authorization token")
)

// TokenService resolves the principal of a bearer access token.
type TokenService interface {
	GetPrincipal(ctx context.Context, token string) (model.Principal, error)
}

// Authenticate validates bearer tokens and injects the principal into context.
type Authenticate struct {
	tokenService   TokenService
	contextManager model.ContextManager
	logger         *logger.Logger
}

// NewAuthenticate creates a new Authenticate middleware instance.
func NewAuthenticate(tokenService TokenService, contextManager model.ContextManager, logger *logger.Logger) *Authenticate {
	return &Authenticate{tokenService: tokenService, contextManager: contextManager, logger: logger}
}

// AuthFunc parses the authorization header, validates the token and returns
// a context carrying the principal.
func (m *Authenticate) AuthFunc(ctx context.Context) (context.Context, error) {
	var tokenString string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if authHeaders := md.Get("authorization"); len(authHeaders) > 0 {
			tokenString = bearer(authHeaders[0])
		}
	}

	principal, err := m.authenticate(ctx, tokenString)
	if err != nil {
		m.logger.Debug("Authenticate: rejected request", "reason", err.Error())
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return m.contextManager.SetPrincipalToContext(ctx, principal), nil
}

func (m *Authenticate) authenticate(ctx context.Context, tokenString string) (model.Principal, error) {
	if tokenString == "" {
		return model.Principal{}, errMissingToken
	}

	principal, err := m.tokenService.GetPrincipal(ctx, tokenString)
	if err != nil {
		return model.Principal{}, errInvalidToken
	}

	return principal, nil
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
