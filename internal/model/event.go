package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names an auth lifecycle event.
type EventType string

const (
	EventUserRegistered   EventType = "user.registered"
	EventUserLoggedIn     EventType = "user.logged_in"
	EventSessionRefreshed EventType = "session.refreshed"
	EventSessionRevoked   EventType = "session.revoked"
)

// Event is an auth lifecycle notification. It never carries secrets.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher delivers auth events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
