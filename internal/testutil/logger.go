package testutil

import (
	"io"

	"github.com/dtroode/authkeeper/internal/logger"
)

// MakeNoopLogger returns a logger that discards every record.
func MakeNoopLogger() *logger.Logger {
	return logger.NewWithFormat(io.Discard, 0, "text")
}
