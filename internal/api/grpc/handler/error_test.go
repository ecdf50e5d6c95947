package handler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/authkeeper/internal/model"
)

func TestHandleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       error
		wantCode codes.Code
		wantMsg  string
	}{
		{
			name:     "duplicate credential -> AlreadyExists",
			in:       model.ErrDuplicateCredential,
			wantCode: codes.AlreadyExists,
			wantMsg:  "email already registered",
		},
		{
			name:     "invalid credentials -> Unauthenticated",
			in:       model.ErrInvalidCredentials,
			wantCode: codes.Unauthenticated,
			wantMsg:  "invalid credentials",
		},
		{
			name:     "invalid refresh token -> Unauthenticated",
			in:       model.ErrInvalidRefreshToken,
			wantCode: codes.Unauthenticated,
			wantMsg:  "invalid refresh token",
		},
		{
			name:     "expired refresh token -> Unauthenticated",
			in:       fmt.Errorf("lookup: %w", model.ErrRefreshTokenExpired),
			wantCode: codes.Unauthenticated,
			wantMsg:  "refresh token expired",
		},
		{
			name:     "model not found -> NotFound",
			in:       model.ErrNotFound,
			wantCode: codes.NotFound,
			wantMsg:  "user not found",
		},
		{
			name:     "invalid input -> InvalidArgument",
			in:       model.ErrInvalidInput,
			wantCode: codes.InvalidArgument,
			wantMsg:  "invalid input",
		},
		{
			name:     "other -> Internal without detail",
			in:       errors.New("dial tcp 10.0.0.1:5432: connection refused"),
			wantCode: codes.Internal,
			wantMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := handleError(tt.in)
			st, ok := status.FromError(err)
			assert.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Equal(t, tt.wantMsg, st.Message())
		})
	}
}
