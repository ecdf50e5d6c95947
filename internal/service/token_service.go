package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/model"
)

// TokenService issues, rotates and revokes token pairs. It composes the
// TokenIssuer and SessionStore.
type TokenService struct {
	issuer     model.TokenIssuer
	store      model.SessionStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *logger.Logger
}

// NewTokenService creates token service. Zero values in cfg are replaced
// with defaults.
func NewTokenService(issuer model.TokenIssuer, store model.SessionStore, cfg Config, logger *logger.Logger) *TokenService {
	cfg = cfg.withDefaults()

	return &TokenService{
		issuer:     issuer,
		store:      store,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		logger:     logger,
	}
}

// Issue mints a pair and persists its refresh record alongside any existing
// sessions of the principal.
func (s *TokenService) Issue(ctx context.Context, principal model.Principal) (model.TokenPair, error) {
	pair, record, err := s.mint(principal)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.store.Create(ctx, record); err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return pair, nil
}

// IssueExclusive mints a pair and makes its refresh record the only session
// of the principal.
func (s *TokenService) IssueExclusive(ctx context.Context, principal model.Principal) (model.TokenPair, error) {
	pair, record, err := s.mint(principal)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.store.ReplaceAllForUser(ctx, record); err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to replace user sessions: %w", err)
	}

	return pair, nil
}

// Lookup resolves a presented refresh secret to its live record. An expired
// record is removed before ErrRefreshTokenExpired is returned.
func (s *TokenService) Lookup(ctx context.Context, secret string) (model.RefreshToken, error) {
	if secret == "" {
		return model.RefreshToken{}, model.ErrInvalidRefreshToken
	}

	record, err := s.store.GetByHash(ctx, s.issuer.Digest(secret))
	if errors.Is(err, model.ErrNotFound) {
		return model.RefreshToken{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if record.Expired(s.now()) {
		if _, err := s.store.DeleteByID(ctx, record.ID); err != nil {
			return model.RefreshToken{}, fmt.Errorf("failed to delete expired refresh token: %w", err)
		}
		return model.RefreshToken{}, model.ErrRefreshTokenExpired
	}

	return record, nil
}

// Rotate consumes old and issues a replacement pair. Only one caller can
// consume a given record; the others get ErrInvalidRefreshToken.
func (s *TokenService) Rotate(ctx context.Context, old model.RefreshToken, principal model.Principal) (model.TokenPair, error) {
	pair, record, err := s.mint(principal)
	if err != nil {
		return model.TokenPair{}, err
	}

	err = s.store.Rotate(ctx, old.ID, record)
	if errors.Is(err, model.ErrNotFound) {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return pair, nil
}

// Revoke removes a single record. Missing records are not an error.
func (s *TokenService) Revoke(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser removes every session of the user.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.DeleteAllByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return n, nil
}

// GetPrincipal verifies an access token.
func (s *TokenService) GetPrincipal(_ context.Context, token string) (model.Principal, error) {
	return s.issuer.ParseAccessToken(token)
}

func (s *TokenService) mint(principal model.Principal) (model.TokenPair, model.RefreshToken, error) {
	access, err := s.issuer.IssueAccessToken(principal, s.accessTTL)
	if err != nil {
		return model.TokenPair{}, model.RefreshToken{}, fmt.Errorf("failed to issue access token: %w", err)
	}

	secret, err := s.issuer.GenerateRefreshSecret()
	if err != nil {
		return model.TokenPair{}, model.RefreshToken{}, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	now := s.now()
	record := model.RefreshToken{
		ID:        uuid.New(),
		TokenHash: s.issuer.Digest(secret),
		UserID:    principal.Subject,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}

	return model.TokenPair{AccessToken: access, RefreshToken: secret}, record, nil
}
