package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *ledgerdomain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_ledger (
			id, tenant_id, correlation_id, merchant_ref, amount_minor, currency, phone,
			status, result_code, result_desc, receipt, raw_payload, auto_reconciled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TenantID,
		entry.CorrelationID,
		entry.MerchantRef,
		entry.AmountMinor,
		entry.Currency,
		entry.Phone,
		entry.Status,
		entry.ResultCode,
		entry.ResultDesc,
		entry.Receipt,
		entry.RawPayload,
		entry.AutoReconciled,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) FindByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*ledgerdomain.Entry, error) {
	var entry ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, correlation_id, merchant_ref, amount_minor, currency, phone,
		 status, result_code, result_desc, receipt, raw_payload, auto_reconciled,
		 created_at, updated_at
		 FROM payment_ledger WHERE correlation_id = ? LIMIT 1`,
		correlationID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) RefreshPending(ctx context.Context, db *gorm.DB, correlationID string, amountMinor int64, phone string) (bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_ledger
		 SET amount_minor = ?, phone = ?, updated_at = ?
		 WHERE correlation_id = ? AND status = ?`,
		amountMinor,
		phone,
		now,
		correlationID,
		ledgerdomain.EntryStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Finalize(ctx context.Context, db *gorm.DB, correlationID string, status ledgerdomain.EntryStatus, resultCode int, resultDesc string, receipt *string, raw []byte) (bool, error) {
	now := time.Now().UTC()
	var payload any
	if len(raw) > 0 {
		payload = datatypes.JSON(raw)
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_ledger
		 SET status = ?, result_code = ?, result_desc = ?, receipt = ?,
		     raw_payload = COALESCE(?, raw_payload), updated_at = ?
		 WHERE correlation_id = ? AND status = ?`,
		status,
		resultCode,
		resultDesc,
		receipt,
		payload,
		now,
		correlationID,
		ledgerdomain.EntryStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkAutoReconciled(ctx context.Context, db *gorm.DB, correlationID string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE payment_ledger SET auto_reconciled = ?, updated_at = ? WHERE correlation_id = ?`,
		true,
		now,
		correlationID,
	).Error
}

func (r *repo) FindStuckPending(ctx context.Context, db *gorm.DB, olderThan, notBefore time.Time, limit int) ([]ledgerdomain.Entry, error) {
	var entries []ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, correlation_id, merchant_ref, amount_minor, currency, phone,
		 status, result_code, result_desc, receipt, raw_payload, auto_reconciled,
		 created_at, updated_at
		 FROM payment_ledger
		 WHERE status = ? AND result_code IS NULL
		   AND created_at <= ? AND created_at > ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		ledgerdomain.EntryStatusPending,
		olderThan,
		notBefore,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindSettledUnactivated(ctx context.Context, db *gorm.DB, limit int) ([]ledgerdomain.Entry, error) {
	var entries []ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT l.id, l.tenant_id, l.correlation_id, l.merchant_ref, l.amount_minor, l.currency,
		 l.phone, l.status, l.result_code, l.result_desc, l.receipt, l.raw_payload,
		 l.auto_reconciled, l.created_at, l.updated_at
		 FROM payment_ledger l
		 LEFT JOIN subscriptions s ON s.correlation_id = l.correlation_id
		 WHERE l.status = ?
		   AND (s.id IS NULL OR s.status NOT IN (?, ?))
		 ORDER BY l.created_at ASC
		 LIMIT ?`,
		ledgerdomain.EntryStatusSuccess,
		"active",
		"cancelled",
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]ledgerdomain.Entry, error) {
	var entries []ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, correlation_id, merchant_ref, amount_minor, currency, phone,
		 status, result_code, result_desc, receipt, raw_payload, auto_reconciled,
		 created_at, updated_at
		 FROM payment_ledger WHERE tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		tenantID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
