package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/authkeeper/internal/model"
)

// RefreshTokenRepository is a mutex guarded session store. Every method
// holds the lock for its whole body, so compound operations are atomic.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]model.RefreshToken
	byHash map[string]uuid.UUID
}

var _ model.SessionStore = (*RefreshTokenRepository)(nil)

// NewRefreshTokenRepository creates empty session store.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byID:   make(map[uuid.UUID]model.RefreshToken),
		byHash: make(map[string]uuid.UUID),
	}
}

// Create stores the record. Duplicate id or hash yields ErrAlreadyExists.
func (r *RefreshTokenRepository) Create(_ context.Context, token model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insert(token)
}

// GetByHash returns the record with given digest.
func (r *RefreshTokenRepository) GetByHash(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return model.RefreshToken{}, model.ErrNotFound
	}

	return r.byID[id], nil
}

// DeleteByID removes the record and reports whether it was present.
func (r *RefreshTokenRepository) DeleteByID(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.remove(id), nil
}

// DeleteAllByUser removes all records of the user.
func (r *RefreshTokenRepository) DeleteAllByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeUser(userID), nil
}

// Rotate removes oldID and stores next in one step.
func (r *RefreshTokenRepository) Rotate(_ context.Context, oldID uuid.UUID, next model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[oldID]
	if !ok {
		return model.ErrNotFound
	}
	if _, taken := r.byHash[next.TokenHash]; taken {
		return model.ErrAlreadyExists
	}

	r.remove(old.ID)
	return r.insert(next)
}

// ReplaceAllForUser drops every record of next.UserID and stores next.
func (r *RefreshTokenRepository) ReplaceAllForUser(_ context.Context, next model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, taken := r.byHash[next.TokenHash]; taken && r.byID[id].UserID != next.UserID {
		return model.ErrAlreadyExists
	}

	r.removeUser(next.UserID)
	return r.insert(next)
}

// DeleteExpired removes records with ExpiresAt before the instant.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.byID {
		if t.ExpiresAt.Before(before) {
			r.remove(id)
			n++
		}
	}

	return n, nil
}

// Len returns number of stored records.
func (r *RefreshTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byID)
}

func (r *RefreshTokenRepository) insert(token model.RefreshToken) error {
	if _, ok := r.byID[token.ID]; ok {
		return model.ErrAlreadyExists
	}
	if _, ok := r.byHash[token.TokenHash]; ok {
		return model.ErrAlreadyExists
	}

	r.byID[token.ID] = token
	r.byHash[token.TokenHash] = token.ID

	return nil
}

func (r *RefreshTokenRepository) remove(id uuid.UUID) bool {
	t, ok := r.byID[id]
	if !ok {
		return false
	}

	delete(r.byID, id)
	delete(r.byHash, t.TokenHash)

	return true
}

func (r *RefreshTokenRepository) removeUser(userID uuid.UUID) int64 {
	var n int64
	for id, t := range r.byID {
		if t.UserID == userID {
			r.remove(id)
			n++
		}
	}

	return n
}
