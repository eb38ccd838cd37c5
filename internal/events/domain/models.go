// Package domain contains the billing event outbox.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingEvent is an outbox row. The (tenant_id, dedupe_key) unique index is
// what makes retried publishes idempotent.
type BillingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	TenantID    snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_billing_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_billing_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

const (
	EventSubscriptionActivated = "subscription.activated"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionExpired   = "subscription.expired"
	EventRenewalDue            = "subscription.renewal_due"
	EventExpiryReminder        = "subscription.expiry_reminder"
)
