package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/authkeeper/internal/model"
)

func testPrincipal() model.Principal {
	return model.Principal{
		Subject: uuid.New(),
		Email:   "a@x.com",
		Role:    model.RoleUser,
	}
}

func TestJWT_AccessToken_Roundtrip(t *testing.T) {
	j := NewJWT("secret", "authkeeper")
	p := testPrincipal()

	access, err := j.IssueAccessToken(p, 15*time.Minute)
	require.NoError(t, err)

	got, err := j.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestJWT_AccessToken_Claims(t *testing.T) {
	j := NewJWT("secret", "authkeeper")
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	p := testPrincipal()

	access, err := j.IssueAccessToken(p, 15*time.Minute)
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(access, claims)
	require.NoError(t, err)

	assert.Equal(t, p.Subject.String(), claims.Subject)
	assert.Equal(t, "authkeeper", claims.Issuer)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, model.RoleUser, claims.Role)
	assert.Equal(t, "access", claims.TokenType)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(15*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestJWT_AccessToken_UniqueJTI(t *testing.T) {
	j := NewJWT("secret", "authkeeper")
	p := testPrincipal()

	first, err := j.IssueAccessToken(p, time.Minute)
	require.NoError(t, err)
	second, err := j.IssueAccessToken(p, time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestJWT_ExpiryValidation(t *testing.T) {
	j := NewJWT("secret", "authkeeper")
	now := time.Now()
	j.now = func() time.Time { return now }

	access, err := j.IssueAccessToken(testPrincipal(), time.Minute)
	require.NoError(t, err)

	_, err = j.ParseAccessToken(access)
	require.NoError(t, err)

	j.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = j.ParseAccessToken(access)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWT_NonPositiveTTL(t *testing.T) {
	j := NewJWT("secret", "authkeeper")

	_, err := j.IssueAccessToken(testPrincipal(), 0)
	require.Error(t, err)
}

func TestJWT_ParseAccessToken_Rejects(t *testing.T) {
	j := NewJWT("secret", "authkeeper")
	p := testPrincipal()

	sign := func(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	valid := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject.String(),
			Issuer:    "authkeeper",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Email:     p.Email,
		Role:      p.Role,
		TokenType: "access",
	}

	wrongType := valid
	wrongType.TokenType = "refresh"

	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	noExpiry := valid
	noExpiry.ExpiresAt = nil

	badSubject := valid
	badSubject.Subject = "not-a-uuid"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not.a.jwt"},
		{name: "wrong secret", token: sign(t, jwt.SigningMethodHS256, []byte("other"), valid)},
		{name: "wrong algorithm", token: sign(t, jwt.SigningMethodHS512, []byte("secret"), valid)},
		{name: "none algorithm", token: sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{name: "wrong type", token: sign(t, jwt.SigningMethodHS256, []byte("secret"), wrongType)},
		{name: "wrong issuer", token: sign(t, jwt.SigningMethodHS256, []byte("secret"), wrongIssuer)},
		{name: "missing expiry", token: sign(t, jwt.SigningMethodHS256, []byte("secret"), noExpiry)},
		{name: "bad subject", token: sign(t, jwt.SigningMethodHS256, []byte("secret"), badSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.ParseAccessToken(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWT_GenerateRefreshSecret(t *testing.T) {
	j := NewJWT("secret", "authkeeper")

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		secret, err := j.GenerateRefreshSecret()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(secret)
		require.NoError(t, err)
		assert.Len(t, raw, 32)

		_, dup := seen[secret]
		assert.False(t, dup)
		seen[secret] = struct{}{}
	}
}

func TestJWT_Digest(t *testing.T) {
	j := NewJWT("secret", "authkeeper")

	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		j.Digest(""),
	)
	assert.Equal(t, j.Digest("abc"), j.Digest("abc"))
	assert.NotEqual(t, j.Digest("abc"), j.Digest("abd"))
	assert.Len(t, j.Digest("anything"), 64)
}
