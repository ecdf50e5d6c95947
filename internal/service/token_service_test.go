package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/authkeeper/internal/mocks"
	"github.com/dtroode/authkeeper/internal/model"
	"github.com/dtroode/authkeeper/internal/testutil"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
}

func testConfig() Config {
	return Config{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour, Now: fixedNow}
}

func TestTokenService_Issue(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New(), Email: "a@x.com", Role: model.RoleUser}

	issuer := mocks.NewTokenIssuer(t)
	store := mocks.NewSessionStore(t)

	issuer.On("IssueAccessToken", principal, 15*time.Minute).Return("access", nil).Once()
	issuer.On("GenerateRefreshSecret").Return("refresh", nil).Once()
	issuer.On("Digest", "refresh").Return("digest").Once()
	store.On("Create", ctx, mock.MatchedBy(func(rt model.RefreshToken) bool {
		return rt.TokenHash == "digest" &&
			rt.UserID == principal.Subject &&
			rt.ID != uuid.Nil &&
			rt.CreatedAt.Equal(fixedNow()) &&
			rt.ExpiresAt.Equal(fixedNow().Add(7*24*time.Hour))
	})).Return(nil).Once()

	svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

	pair, err := svc.Issue(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, pair)
}

func TestTokenService_Issue_IssuerError(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New()}

	issuer := mocks.NewTokenIssuer(t)
	store := mocks.NewSessionStore(t)

	issuer.On("IssueAccessToken", principal, 15*time.Minute).Return("", assert.AnError).Once()

	svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

	_, err := svc.Issue(ctx, principal)
	require.ErrorIs(t, err, assert.AnError)
}

func TestTokenService_Issue_SecretError(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New()}

	issuer := mocks.NewTokenIssuer(t)
	store := mocks.NewSessionStore(t)

	issuer.On("IssueAccessToken", principal, 15*time.Minute).Return("access", nil).Once()
	issuer.On("GenerateRefreshSecret").Return("", assert.AnError).Once()

	svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

	_, err := svc.Issue(ctx, principal)
	require.ErrorIs(t, err, assert.AnError)
}

func TestTokenService_IssueExclusive(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New()}

	issuer := mocks.NewTokenIssuer(t)
	store := mocks.NewSessionStore(t)

	issuer.On("IssueAccessToken", principal, 15*time.Minute).Return("access", nil).Once()
	issuer.On("GenerateRefreshSecret").Return("refresh", nil).Once()
	issuer.On("Digest", "refresh").Return("digest").Once()
	store.On("ReplaceAllForUser", ctx, mock.MatchedBy(func(rt model.RefreshToken) bool {
		return rt.UserID == principal.Subject && rt.TokenHash == "digest"
	})).Return(nil).Once()

	svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

	pair, err := svc.IssueExclusive(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, "refresh", pair.RefreshToken)
}

func TestTokenService_Lookup(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name      string
		record    model.RefreshToken
		storeErr  error
		expectDel bool
		wantErr   error
	}{
		{
			name:   "live",
			record: model.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: fixedNow().Add(time.Hour)},
		},
		{
			name:     "unknown",
			storeErr: model.ErrNotFound,
			wantErr:  model.ErrInvalidRefreshToken,
		},
		{
			name:     "store failure",
			storeErr: assert.AnError,
			wantErr:  assert.AnError,
		},
		{
			name:      "expired",
			record:    model.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: fixedNow().Add(-time.Second)},
			expectDel: true,
			wantErr:   model.ErrRefreshTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := mocks.NewTokenIssuer(t)
			store := mocks.NewSessionStore(t)

			issuer.On("Digest", "presented").Return("digest").Once()
			store.On("GetByHash", ctx, "digest").Return(tt.record, tt.storeErr).Once()
			if tt.expectDel {
				store.On("DeleteByID", ctx, tt.record.ID).Return(true, nil).Once()
			}

			svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

			got, err := svc.Lookup(ctx, "presented")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.record, got)
		})
	}
}

func TestTokenService_Lookup_Empty(t *testing.T) {
	svc := NewTokenService(mocks.NewTokenIssuer(t), mocks.NewSessionStore(t), testConfig(), testutil.MakeNoopLogger())

	_, err := svc.Lookup(context.Background(), "")
	require.ErrorIs(t, err, model.ErrInvalidRefreshToken)
}

func TestTokenService_Rotate(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New()}
	old := model.RefreshToken{ID: uuid.New(), UserID: principal.Subject}

	tests := []struct {
		name     string
		storeErr error
		wantErr  error
	}{
		{name: "success"},
		{name: "lost race", storeErr: model.ErrNotFound, wantErr: model.ErrInvalidRefreshToken},
		{name: "store failure", storeErr: assert.AnError, wantErr: assert.AnError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := mocks.NewTokenIssuer(t)
			store := mocks.NewSessionStore(t)

			issuer.On("IssueAccessToken", principal, 15*time.Minute).Return("access", nil).Once()
			issuer.On("GenerateRefreshSecret").Return("refresh", nil).Once()
			issuer.On("Digest", "refresh").Return("digest").Once()
			store.On("Rotate", ctx, old.ID, mock.MatchedBy(func(rt model.RefreshToken) bool {
				return rt.ID != old.ID && rt.TokenHash == "digest"
			})).Return(tt.storeErr).Once()

			svc := NewTokenService(issuer, store, testConfig(), testutil.MakeNoopLogger())

			pair, err := svc.Rotate(ctx, old, principal)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, model.TokenPair{}, pair)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, pair)
		})
	}
}

func TestTokenService_RevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	store := mocks.NewSessionStore(t)
	store.On("DeleteAllByUser", ctx, userID).Return(int64(2), nil).Once()

	svc := NewTokenService(mocks.NewTokenIssuer(t), store, testConfig(), testutil.MakeNoopLogger())

	n, err := svc.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTokenService_GetPrincipal(t *testing.T) {
	ctx := context.Background()
	principal := model.Principal{Subject: uuid.New(), Email: "a@x.com", Role: model.RoleAdmin}

	issuer := mocks.NewTokenIssuer(t)
	issuer.On("ParseAccessToken", "good").Return(principal, nil).Once()
	issuer.On("ParseAccessToken", "bad").Return(model.Principal{}, assert.AnError).Once()

	svc := NewTokenService(issuer, mocks.NewSessionStore(t), testConfig(), testutil.MakeNoopLogger())

	got, err := svc.GetPrincipal(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, principal, got)

	_, err = svc.GetPrincipal(ctx, "bad")
	require.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.NotNil(t, cfg.Now)
}
