package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dtroode/authkeeper/internal/model"
)

const (
	typeAccess = "access"

	refreshSecretSize = 32
)

// ErrInvalidToken is returned for any access token that fails verification.
var ErrInvalidToken = errors.New("invalid access token")

// Claims represents access token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	TokenType string     `json:"typ"`
}

// JWT implements TokenIssuer backed by symmetric HMAC.
type JWT struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

var _ model.TokenIssuer = (*JWT)(nil)

// NewJWT creates a new token issuer with the provided secret key.
func NewJWT(secretKey, issuer string) *JWT {
	return &JWT{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		now:       time.Now,
	}
}

// IssueAccessToken creates a signed access token for the principal.
func (j *JWT) IssueAccessToken(principal model.Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("access token ttl must be positive, got %s", ttl)
	}

	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal.Subject.String(),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     principal.Email,
		Role:      principal.Role,
		TokenType: typeAccess,
	})

	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ParseAccessToken validates an access token and extracts its principal.
func (j *JWT) ParseAccessToken(tokenString string) (model.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.TokenType != typeAccess {
		return model.Principal{}, fmt.Errorf("%w: token type mismatch: %s", ErrInvalidToken, claims.TokenType)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: bad subject: %w", ErrInvalidToken, err)
	}

	return model.Principal{
		Subject: subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

// GenerateRefreshSecret returns 256 random bits encoded as base64url.
func (j *JWT) GenerateRefreshSecret() (string, error) {
	secret := make([]byte, refreshSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(secret), nil
}

// Digest returns hex encoded sha256 of the secret. Used for storage lookup only.
func (j *JWT) Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
