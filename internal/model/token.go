package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenIssuer mints and verifies access tokens and produces opaque refresh
// secrets.
type TokenIssuer interface {
	IssueAccessToken(claims Principal, ttl time.Duration) (string, error)
	ParseAccessToken(token string) (Principal, error)
	GenerateRefreshSecret() (string, error)
	Digest(secret string) string
}

// Principal is the identity carried by an access token.
type Principal struct {
	Subject uuid.UUID `json:"sub"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
}

// TokenPair is returned once to the caller and never stored as is.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the response of register, login and refresh.
type AuthResult struct {
	User PublicUser `json:"user"`
	TokenPair
}

// LogoutResult acknowledges a logout.
type LogoutResult struct {
	Success bool `json:"success"`
}
