// Package domain contains the mobile-money payment ledger: the durable record of
// every STK push attempt and its terminal outcome.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryStatus is the ledger lifecycle state.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusFailed  EntryStatus = "failed"
)

// Entry is one gateway transaction attempt. CorrelationID is the gateway's
// checkout request id and the idempotency key: the terminal fields are
// write-once, and later callbacks for the same id are no-ops.
type Entry struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	TenantID       snowflake.ID   `gorm:"not null;index"`
	CorrelationID  string         `gorm:"type:text;not null;uniqueIndex"`
	MerchantRef    string         `gorm:"type:text;index"`
	AmountMinor    int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null;default:'KES'"`
	Phone          string         `gorm:"type:text"`
	Status         EntryStatus    `gorm:"type:text;not null;index"`
	ResultCode     *int           `gorm:""`
	ResultDesc     string         `gorm:"type:text"`
	Receipt        *string        `gorm:"type:text"`
	RawPayload     datatypes.JSON `gorm:"type:jsonb"`
	AutoReconciled bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "payment_ledger" }

// Terminal reports whether the entry has reached a state that will never change.
func (e *Entry) Terminal() bool {
	return e.Status == EntryStatusSuccess || e.Status == EntryStatusFailed
}

// StatusForResultCode maps a gateway result code to the terminal ledger status.
func StatusForResultCode(code int) EntryStatus {
	if code == 0 {
		return EntryStatusSuccess
	}
	return EntryStatusFailed
}
