package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type PublishRequest struct {
	TenantID  snowflake.ID
	EventType string
	// DedupeKey suppresses duplicate events for the same fact, e.g. one
	// activation event per correlation id. Empty disables dedup.
	DedupeKey string
	Payload   map[string]interface{}
}

// Notifier persists the event and pushes it to subscribers. Publishing is
// best effort past the outbox write: push failures are logged, never returned.
type Notifier interface {
	Publish(ctx context.Context, req PublishRequest) error
}
