package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*Subscription, error)
	// FindLatestAwaitingByTenantAndAmount is the last-resort resolver input: the
	// most recent pending or pending_verification record for the tenant with the
	// given charge amount.
	FindLatestAwaitingByTenantAndAmount(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amountMinor int64) (*Subscription, error)
	SetCorrelationID(ctx context.Context, db *gorm.DB, id snowflake.ID, correlationID string) error
	// MarkPendingVerification records a client-reported receipt; it only moves a
	// row out of pending and reports whether it did.
	MarkPendingVerification(ctx context.Context, db *gorm.DB, id snowflake.ID, receipt *string, now time.Time) (bool, error)
	// Activate is the activation transition. The conditional status predicate
	// makes the concurrent-finalize loser observable to the caller.
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, receipt *string, startsAt, endsAt, now time.Time) (bool, error)
	// Cancel moves an awaitable row to cancelled and reports whether it did.
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// MarkExpired moves an active row to expired and reports whether it did.
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// HasOtherActive reports whether the tenant holds an active subscription
	// other than the given one. A renewal opens a fresh record, so expiry of
	// the old period must not touch the tenant plan pointer while the renewed
	// period is running.
	HasOtherActive(ctx context.Context, db *gorm.DB, tenantID, excludeID snowflake.ID) (bool, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]Subscription, error)

	// Scheduler candidate queries. All of them read with LIMIT and leave the
	// per-row transition to a conditional update so concurrent workers stay safe.
	FindExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	FindRenewalCandidates(ctx context.Context, db *gorm.DB, now, until, attemptedBefore time.Time, limit int) ([]Subscription, error)
	FindReminderCandidates(ctx context.Context, db *gorm.DB, now, until time.Time, today string, limit int) ([]Subscription, error)
	// StampRenewalAttempt is the renewal dedup write; it refuses rows already
	// attempted after attemptedBefore.
	StampRenewalAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, now, attemptedBefore time.Time) (bool, error)
	// StampReminderSent records the calendar day a reminder went out on.
	StampReminderSent(ctx context.Context, db *gorm.DB, id snowflake.ID, day string, now time.Time) (bool, error)
}
