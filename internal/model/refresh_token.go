package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStore persists refresh-token records. Only digests of refresh
// secrets are ever stored.
type SessionStore interface {
	Create(ctx context.Context, token RefreshToken) error
	// GetByHash returns ErrNotFound when no record has the digest.
	GetByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	// DeleteByID removes the record if it is still present and reports
	// whether this call removed it.
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteAllByUser removes every record of the user and returns the count.
	DeleteAllByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// Rotate atomically deletes oldID and inserts next. It returns
	// ErrNotFound without inserting when oldID was already gone.
	Rotate(ctx context.Context, oldID uuid.UUID, next RefreshToken) error
	// ReplaceAllForUser atomically deletes all records of next.UserID and
	// inserts next.
	ReplaceAllForUser(ctx context.Context, next RefreshToken) error
	// DeleteExpired removes records that expired before the given instant.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshToken is a persisted refresh-token record.
type RefreshToken struct {
	ID        uuid.UUID
	TokenHash string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
