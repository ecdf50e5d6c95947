package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore defines persistence operations for users.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	// Create inserts the user and returns ErrAlreadyExists when the email is taken.
	Create(ctx context.Context, user User) (User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	// Delete removes the user and returns ErrNotFound when it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Role is a coarse user role carried in access tokens.
type Role string

const (
	// RoleUser is assigned to every self-registered account.
	RoleUser Role = "USER"
	// RoleAdmin is granted only through administrative paths.
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a stored user with its password hash.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the part of a user that is safe to return to callers.
type PublicUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// Public strips the password hash and timestamps.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Role: u.Role}
}
