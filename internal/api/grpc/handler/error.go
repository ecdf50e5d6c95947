package handler

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/authkeeper/internal/model"
)

// handleError maps domain errors to gRPC statuses. Anything unknown becomes
// Internal without detail.
func handleError(err error) error {
	switch {
	case errors.Is(err, model.ErrDuplicateCredential):
		return status.Error(codes.AlreadyExists, model.ErrDuplicateCredential.Error())
	case errors.Is(err, model.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, model.ErrInvalidCredentials.Error())
	case errors.Is(err, model.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, model.ErrInvalidRefreshToken.Error())
	case errors.Is(err, model.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, model.ErrRefreshTokenExpired.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, "user not found")
	case errors.Is(err, model.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, model.ErrInvalidInput.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
