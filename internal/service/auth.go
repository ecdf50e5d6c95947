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

// Auth operation names used in metrics.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpRefresh  = "refresh"
	OpLogout   = "logout"
)

const (
	publishTimeout = time.Second
	cleanupTimeout = 5 * time.Second
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Recorder receives auth outcome observations.
type Recorder interface {
	ObserveAuth(operation, outcome string)
	ObserveEventDropped(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAuth(string, string)  {}
func (nopRecorder) ObserveEventDropped(string) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Event) error { return nil }

// rehasher is implemented by password hashers that can tell when a stored
// hash uses outdated parameters.
type rehasher interface {
	NeedsRehash(encoded string) bool
}

// Option configures Auth.
type Option func(*Auth)

// WithEvents sets publisher for auth lifecycle events.
func WithEvents(publisher model.EventPublisher) Option {
	return func(a *Auth) {
		a.events = publisher
	}
}

// WithRecorder sets metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(a *Auth) {
		a.recorder = recorder
	}
}

// Auth implements registration, login, refresh and logout.
type Auth struct {
	userStore    model.UserStore
	hasher       model.PasswordHasher
	tokenService *TokenService
	cfg          Config
	events       model.EventPublisher
	recorder     Recorder
	logger       *logger.Logger

	// dummyHash stands in for the stored hash when the email is unknown.
	dummyHash string
}

// NewAuth creates auth service.
func NewAuth(
	userStore model.UserStore,
	sessionStore model.SessionStore,
	issuer model.TokenIssuer,
	hasher model.PasswordHasher,
	cfg Config,
	logger *logger.Logger,
	opts ...Option,
) *Auth {
	cfg = cfg.withDefaults()

	a := &Auth{
		userStore:    userStore,
		hasher:       hasher,
		tokenService: NewTokenService(issuer, sessionStore, cfg, logger),
		cfg:          cfg,
		events:       nopPublisher{},
		recorder:     nopRecorder{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		logger.Error("Auth service: failed to prepare dummy hash",
			"error", err.Error())
	}
	a.dummyHash = dummyHash

	return a
}

// TokenService returns the token service used by a.
func (a *Auth) TokenService() *TokenService {
	return a.tokenService
}

// Register creates a user and starts its first session.
func (a *Auth) Register(ctx context.Context, email, password string) (model.AuthResult, error) {
	a.logger.Debug("Auth service: starting user registration",
		"email", email)

	if email == "" || password == "" {
		a.recorder.ObserveAuth(OpRegister, outcomeRejected)
		return model.AuthResult{}, fmt.Errorf("%w: email and password are required", model.ErrInvalidInput)
	}

	_, err := a.userStore.GetByEmail(ctx, email)
	if err == nil {
		a.logger.Info("Auth service: user already exists",
			"email", email)
		a.recorder.ObserveAuth(OpRegister, outcomeRejected)
		return model.AuthResult{}, model.ErrDuplicateCredential
	}
	if !errors.Is(err, model.ErrNotFound) {
		a.logger.Error("Auth service: failed to get user by email",
			"email", email,
			"error", err.Error())
		a.recorder.ObserveAuth(OpRegister, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to get user by email: %w", err)
	}

	passwordHash, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.Error("Auth service: failed to hash password",
			"email", email,
			"error", err.Error())
		a.recorder.ObserveAuth(OpRegister, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.cfg.Now()
	user, err := a.userStore.Create(ctx, model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, model.ErrAlreadyExists) {
		a.logger.Info("Auth service: user created concurrently",
			"email", email)
		a.recorder.ObserveAuth(OpRegister, outcomeRejected)
		return model.AuthResult{}, model.ErrDuplicateCredential
	}
	if err != nil {
		a.logger.Error("Auth service: failed to create user",
			"email", email,
			"error", err.Error())
		a.recorder.ObserveAuth(OpRegister, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := a.tokenService.Issue(ctx, principalOf(user))
	if err != nil {
		a.logger.Error("Auth service: failed to issue tokens",
			"email", email,
			"user_id", user.ID.String(),
			"error", err.Error())
		a.rollbackUser(ctx, user)
		a.recorder.ObserveAuth(OpRegister, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to issue tokens: %w", err)
	}

	a.publish(ctx, model.EventUserRegistered, user)
	a.recorder.ObserveAuth(OpRegister, outcomeSuccess)
	a.logger.Info("Auth service: user registered",
		"email", email,
		"user_id", user.ID.String())

	return model.AuthResult{User: user.Public(), TokenPair: pair}, nil
}

// Login verifies credentials and replaces all sessions of the user with a
// new one. Unknown email and wrong password yield the same error.
func (a *Auth) Login(ctx context.Context, email, password string) (model.AuthResult, error) {
	a.logger.Debug("Auth service: starting user login",
		"email", email)

	user, err := a.userStore.GetByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		_, _ = a.hasher.Verify(password, a.dummyHash)
		a.logger.Info("Auth service: login rejected",
			"email", email)
		a.recorder.ObserveAuth(OpLogin, outcomeRejected)
		return model.AuthResult{}, model.ErrInvalidCredentials
	}
	if err != nil {
		a.logger.Error("Auth service: failed to get user by email",
			"email", email,
			"error", err.Error())
		a.recorder.ObserveAuth(OpLogin, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to get user by email: %w", err)
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		a.logger.Error("Auth service: stored password hash is unreadable",
			"email", email,
			"user_id", user.ID.String(),
			"error", err.Error())
	}
	if !ok {
		a.logger.Info("Auth service: login rejected",
			"email", email)
		a.recorder.ObserveAuth(OpLogin, outcomeRejected)
		return model.AuthResult{}, model.ErrInvalidCredentials
	}

	a.upgradeHash(ctx, user, password)

	pair, err := a.tokenService.IssueExclusive(ctx, principalOf(user))
	if err != nil {
		a.logger.Error("Auth service: failed to issue tokens",
			"email", email,
			"user_id", user.ID.String(),
			"error", err.Error())
		a.recorder.ObserveAuth(OpLogin, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to issue tokens: %w", err)
	}

	a.publish(ctx, model.EventUserLoggedIn, user)
	a.recorder.ObserveAuth(OpLogin, outcomeSuccess)
	a.logger.Info("Auth service: user logged in",
		"email", email,
		"user_id", user.ID.String())

	return model.AuthResult{User: user.Public(), TokenPair: pair}, nil
}

// Refresh exchanges a refresh secret for a new pair. Each secret works once.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (model.AuthResult, error) {
	record, err := a.tokenService.Lookup(ctx, refreshToken)
	if errors.Is(err, model.ErrInvalidRefreshToken) || errors.Is(err, model.ErrRefreshTokenExpired) {
		a.logger.Info("Auth service: refresh rejected",
			"reason", err.Error())
		a.recorder.ObserveAuth(OpRefresh, outcomeRejected)
		return model.AuthResult{}, err
	}
	if err != nil {
		a.logger.Error("Auth service: failed to look up refresh token",
			"error", err.Error())
		a.recorder.ObserveAuth(OpRefresh, outcomeError)
		return model.AuthResult{}, err
	}

	user, err := a.userStore.GetByID(ctx, record.UserID)
	if errors.Is(err, model.ErrNotFound) {
		a.logger.Warn("Auth service: refresh token owner is gone",
			"user_id", record.UserID.String())
		if err := a.tokenService.Revoke(ctx, record.ID); err != nil {
			a.logger.Error("Auth service: failed to delete orphan refresh token",
				"user_id", record.UserID.String(),
				"error", err.Error())
		}
		a.recorder.ObserveAuth(OpRefresh, outcomeRejected)
		return model.AuthResult{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		a.logger.Error("Auth service: failed to get user by id",
			"user_id", record.UserID.String(),
			"error", err.Error())
		a.recorder.ObserveAuth(OpRefresh, outcomeError)
		return model.AuthResult{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	pair, err := a.tokenService.Rotate(ctx, record, principalOf(user))
	if errors.Is(err, model.ErrInvalidRefreshToken) {
		a.logger.Info("Auth service: refresh token already consumed",
			"user_id", user.ID.String())
		a.recorder.ObserveAuth(OpRefresh, outcomeRejected)
		return model.AuthResult{}, err
	}
	if err != nil {
		a.logger.Error("Auth service: failed to rotate refresh token",
			"user_id", user.ID.String(),
			"error", err.Error())
		a.recorder.ObserveAuth(OpRefresh, outcomeError)
		return model.AuthResult{}, err
	}

	a.publish(ctx, model.EventSessionRefreshed, user)
	a.recorder.ObserveAuth(OpRefresh, outcomeSuccess)
	a.logger.Debug("Auth service: session refreshed",
		"user_id", user.ID.String())

	return model.AuthResult{User: user.Public(), TokenPair: pair}, nil
}

// Logout removes every session of the user. Logging out a user without
// sessions succeeds.
func (a *Auth) Logout(ctx context.Context, userID uuid.UUID) (model.LogoutResult, error) {
	n, err := a.tokenService.RevokeAllForUser(ctx, userID)
	if err != nil {
		a.logger.Error("Auth service: failed to revoke sessions",
			"user_id", userID.String(),
			"error", err.Error())
		a.recorder.ObserveAuth(OpLogout, outcomeError)
		return model.LogoutResult{}, err
	}

	a.publish(ctx, model.EventSessionRevoked, model.User{ID: userID})
	a.recorder.ObserveAuth(OpLogout, outcomeSuccess)
	a.logger.Info("Auth service: user logged out",
		"user_id", userID.String(),
		"sessions", n)

	return model.LogoutResult{Success: true}, nil
}

// Profile returns the stored public view of the user.
func (a *Auth) Profile(ctx context.Context, userID uuid.UUID) (model.PublicUser, error) {
	user, err := a.userStore.GetByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.PublicUser{}, err
	}
	if err != nil {
		a.logger.Error("Auth service: failed to get user by id",
			"user_id", userID.String(),
			"error", err.Error())
		return model.PublicUser{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user.Public(), nil
}

// rollbackUser removes a user whose first session could not be stored, so a
// failed Register leaves nothing behind and can be retried.
func (a *Auth) rollbackUser(ctx context.Context, user model.User) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := a.userStore.Delete(ctx, user.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		a.logger.Error("Auth service: failed to roll back registered user",
			"email", user.Email,
			"user_id", user.ID.String(),
			"error", err.Error())
	}
}

func (a *Auth) upgradeHash(ctx context.Context, user model.User, password string) {
	rh, ok := a.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(user.PasswordHash) {
		return
	}

	passwordHash, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.Error("Auth service: failed to rehash password",
			"user_id", user.ID.String(),
			"error", err.Error())
		return
	}

	if err := a.userStore.UpdatePasswordHash(ctx, user.ID, passwordHash); err != nil {
		a.logger.Error("Auth service: failed to store upgraded password hash",
			"user_id", user.ID.String(),
			"error", err.Error())
		return
	}

	a.logger.Info("Auth service: password hash upgraded",
		"user_id", user.ID.String())
}

func (a *Auth) publish(ctx context.Context, eventType model.EventType, user model.User) {
	event := model.Event{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: a.cfg.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := a.events.Publish(ctx, event); err != nil {
		a.recorder.ObserveEventDropped(string(eventType))
		a.logger.Error("Auth service: failed to publish event",
			"event_type", string(eventType),
			"user_id", user.ID.String(),
			"error", err.Error())
	}
}

func principalOf(user model.User) model.Principal {
	return model.Principal{
		Subject: user.ID,
		Email:   user.Email,
		Role:    user.Role,
	}
}
