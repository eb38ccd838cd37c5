package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() Repository {
	return &repo{}
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *eventsdomain.BillingEvent) error
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *eventsdomain.BillingEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, tenant_id, event_type, payload, dedupe_key, published, published_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.EventType,
		event.Payload,
		event.DedupeKey,
		event.Published,
		event.PublishedAt,
		event.CreatedAt,
	).Error
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_events SET published = TRUE, published_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
