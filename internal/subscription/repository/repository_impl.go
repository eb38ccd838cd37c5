package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, plan_id, amount_minor, currency, status, is_active,
	 is_verified, correlation_id, receipt, phone, auto_renew, billing_interval, starts_at,
	 ends_at, activated_at, cancelled_at, last_renewal_attempt_at, last_reminder_sent_on,
	 metadata, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, tenant_id, plan_id, amount_minor, currency, status, is_active, is_verified,
			correlation_id, receipt, phone, auto_renew, billing_interval, starts_at, ends_at,
			activated_at, cancelled_at, last_renewal_attempt_at, last_reminder_sent_on,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantID,
		sub.PlanID,
		sub.AmountMinor,
		sub.Currency,
		sub.Status,
		sub.IsActive,
		sub.IsVerified,
		sub.CorrelationID,
		sub.Receipt,
		sub.Phone,
		sub.AutoRenew,
		sub.BillingInterval,
		sub.StartsAt,
		sub.EndsAt,
		sub.ActivatedAt,
		sub.CancelledAt,
		sub.LastRenewalAttemptAt,
		sub.LastReminderSentOn,
		sub.Metadata,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE correlation_id = ? LIMIT 1`,
		correlationID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindLatestAwaitingByTenantAndAmount(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amountMinor int64) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ? AND amount_minor = ? AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID,
		amountMinor,
		subscriptiondomain.StatusPending,
		subscriptiondomain.StatusPendingVerification,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) SetCorrelationID(ctx context.Context, db *gorm.DB, id snowflake.ID, correlationID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET correlation_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		correlationID,
		id,
	).Error
}

func (r *repo) MarkPendingVerification(ctx context.Context, db *gorm.DB, id snowflake.ID, receipt *string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, receipt = COALESCE(?, receipt), updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusPendingVerification,
		receipt,
		now,
		id,
		subscriptiondomain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, receipt *string, startsAt, endsAt, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, is_active = TRUE, is_verified = TRUE,
		     receipt = COALESCE(?, receipt),
		     starts_at = ?, ends_at = ?, activated_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		subscriptiondomain.StatusActive,
		receipt,
		startsAt,
		endsAt,
		now,
		now,
		id,
		subscriptiondomain.StatusPending,
		subscriptiondomain.StatusPendingVerification,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, is_active = FALSE, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		subscriptiondomain.StatusCancelled,
		now,
		now,
		id,
		subscriptiondomain.StatusPending,
		subscriptiondomain.StatusPendingVerification,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, is_active = FALSE, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusExpired,
		now,
		id,
		subscriptiondomain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) HasOtherActive(ctx context.Context, db *gorm.DB, tenantID, excludeID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM subscriptions
		 WHERE tenant_id = ? AND status = ? AND id <> ?`,
		tenantID,
		subscriptiondomain.StatusActive,
		excludeID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		tenantID,
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ? AND ends_at IS NOT NULL AND ends_at <= ?
		 ORDER BY ends_at ASC
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		now,
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindRenewalCandidates(ctx context.Context, db *gorm.DB, now, until, attemptedBefore time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ?
		   AND ends_at IS NOT NULL AND ends_at > ? AND ends_at <= ?
		   AND (last_renewal_attempt_at IS NULL OR last_renewal_attempt_at < ?)
		 ORDER BY ends_at ASC
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		now,
		until,
		attemptedBefore,
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindReminderCandidates(ctx context.Context, db *gorm.DB, now, until time.Time, today string, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ?
		   AND ends_at IS NOT NULL AND ends_at > ? AND ends_at <= ?
		   AND (last_reminder_sent_on IS NULL OR last_reminder_sent_on <> ?)
		 ORDER BY ends_at ASC
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		now,
		until,
		today,
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) StampRenewalAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, now, attemptedBefore time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_renewal_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?
		   AND (last_renewal_attempt_at IS NULL OR last_renewal_attempt_at < ?)`,
		now,
		now,
		id,
		subscriptiondomain.StatusActive,
		attemptedBefore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) StampReminderSent(ctx context.Context, db *gorm.DB, id snowflake.ID, day string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_reminder_sent_on = ?, updated_at = ?
		 WHERE id = ? AND status = ?
		   AND (last_reminder_sent_on IS NULL OR last_reminder_sent_on <> ?)`,
		day,
		now,
		id,
		subscriptiondomain.StatusActive,
		day,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
