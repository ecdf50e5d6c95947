// Package memory keeps users and refresh sessions in process memory. It is
// meant for development and tests; state is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dtroode/authkeeper/internal/model"
)

// UserRepository is a mutex guarded user store.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]model.User
	byEmail map[string]uuid.UUID
}

var _ model.UserStore = (*UserRepository)(nil)

// NewUserRepository creates empty user store.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[uuid.UUID]model.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// GetByEmail returns user with exact email match.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return model.User{}, model.ErrNotFound
	}

	return r.byID[id], nil
}

// GetByID returns user by id.
func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}

	return u, nil
}

// Create inserts user if email is not taken.
func (r *UserRepository) Create(_ context.Context, user model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return model.User{}, model.ErrAlreadyExists
	}
	if _, ok := r.byID[user.ID]; ok {
		return model.User{}, model.ErrAlreadyExists
	}

	r.byID[user.ID] = user
	r.byEmail[user.Email] = user.ID

	return user, nil
}

// UpdatePasswordHash replaces stored password hash.
func (r *UserRepository) UpdatePasswordHash(_ context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.ErrNotFound
	}

	u.PasswordHash = passwordHash
	r.byID[id] = u

	return nil
}

// Delete removes user by id.
func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.ErrNotFound
	}

	delete(r.byID, id)
	delete(r.byEmail, u.Email)

	return nil
}
