package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*Entry, error)
	// RefreshPending re-stamps a still-pending row for a retried initiation.
	RefreshPending(ctx context.Context, db *gorm.DB, correlationID string, amountMinor int64, phone string) (bool, error)
	// Finalize performs the write-once terminal transition. It updates the row
	// only while it is still pending and reports whether this call won the write.
	Finalize(ctx context.Context, db *gorm.DB, correlationID string, status EntryStatus, resultCode int, resultDesc string, receipt *string, raw []byte) (bool, error)
	MarkAutoReconciled(ctx context.Context, db *gorm.DB, correlationID string) error
	// FindStuckPending returns pending rows created between the retention
	// horizon and the stuck threshold, oldest first.
	FindStuckPending(ctx context.Context, db *gorm.DB, olderThan, notBefore time.Time, limit int) ([]Entry, error)
	// FindSettledUnactivated returns success rows whose subscription has not
	// reached active status.
	FindSettledUnactivated(ctx context.Context, db *gorm.DB, limit int) ([]Entry, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]Entry, error)
}
