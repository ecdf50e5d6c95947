package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/authkeeper/internal/model"
)

var _ model.SessionStore = (*RefreshTokenRepository)(nil)

type RefreshTokenRepository struct {
	db DB
}

func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const (
	insertRefreshToken = `
        INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	deleteRefreshTokenByID    = `DELETE FROM refresh_tokens WHERE id = $1`
	deleteRefreshTokensByUser = `DELETE FROM refresh_tokens WHERE user_id = $1`
	// Serializes concurrent logins of one user until commit.
	lockUserSessions = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insert(ctx context.Context, db execer, token model.RefreshToken) error {
	_, err := db.Exec(ctx, insertRefreshToken,
		token.ID, token.TokenHash, token.UserID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token model.RefreshToken) error {
	return insert(ctx, r.db, token)
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	const query = `
        SELECT id, token_hash, user_id, expires_at, created_at
        FROM refresh_tokens WHERE token_hash = $1
    `
	var rt model.RefreshToken
	err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&rt.ID, &rt.TokenHash, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RefreshToken{}, model.ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("failed to get refresh token by hash: %w", err)
	}
	return rt, nil
}

func (r *RefreshTokenRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, deleteRefreshTokenByID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RefreshTokenRepository) DeleteAllByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteRefreshTokensByUser, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens by user: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Rotate deletes oldID and inserts next in one transaction. The affected row
// count of the delete decides the winner among concurrent callers.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID uuid.UUID, next model.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, deleteRefreshTokenByID, oldID)
	if err != nil {
		return fmt.Errorf("failed to delete rotated refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	if err := insert(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}

	return nil
}

// ReplaceAllForUser deletes all sessions of next.UserID and inserts next
// while holding a per-user advisory lock.
func (r *RefreshTokenRepository) ReplaceAllForUser(ctx context.Context, next model.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockUserSessions, next.UserID.String()); err != nil {
		return fmt.Errorf("failed to lock user sessions: %w", err)
	}

	if _, err := tx.Exec(ctx, deleteRefreshTokensByUser, next.UserID); err != nil {
		return fmt.Errorf("failed to delete refresh tokens by user: %w", err)
	}

	if err := insert(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session replacement: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`

	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
