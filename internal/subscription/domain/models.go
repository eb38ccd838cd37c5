// Package domain contains the tenant subscription record: the unit the
// activation pipeline resolves settled payments onto.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the subscription lifecycle state. Transitions out of pending and
// pending_verification are owned by the activation service; everything else may
// only move a subscription into pending_verification or cancelled.
type Status string

const (
	StatusPending             Status = "pending"
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusExpired             Status = "expired"
	StatusCancelled           Status = "cancelled"
)

// Subscription is one paid period for a tenant. CorrelationID links the record
// to its payment ledger entry once the STK push has been accepted.
type Subscription struct {
	ID                   snowflake.ID      `gorm:"primaryKey"`
	TenantID             snowflake.ID      `gorm:"not null;index"`
	PlanID               snowflake.ID      `gorm:"not null;index"`
	AmountMinor          int64             `gorm:"not null"`
	Currency             string            `gorm:"type:text;not null;default:'KES'"`
	Status               Status            `gorm:"type:text;not null;index"`
	IsActive             bool              `gorm:"not null;default:false"`
	IsVerified           bool              `gorm:"not null;default:false"`
	CorrelationID        *string           `gorm:"type:text;index"`
	Receipt              *string           `gorm:"type:text"`
	Phone                string            `gorm:"type:text"`
	AutoRenew            bool              `gorm:"not null;default:false"`
	BillingInterval      string            `gorm:"type:text;not null;default:'monthly'"`
	StartsAt             *time.Time        `gorm:""`
	EndsAt               *time.Time        `gorm:""`
	ActivatedAt          *time.Time        `gorm:""`
	CancelledAt          *time.Time        `gorm:""`
	LastRenewalAttemptAt *time.Time        `gorm:""`
	LastReminderSentOn   *string           `gorm:"type:text"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Awaitable reports whether the record can still be claimed by a payment.
func (s *Subscription) Awaitable() bool {
	return s.Status == StatusPending || s.Status == StatusPendingVerification
}

// MerchantRef is the account reference sent with the STK push. It round-trips
// the subscription id through the gateway so callbacks that lose the checkout
// correlation can still be attributed.
func (s *Subscription) MerchantRef() string {
	return fmt.Sprintf("SUB-%d", s.ID)
}

// ParseMerchantRef extracts a subscription id from a SUB-<id> account reference.
func ParseMerchantRef(ref string) (snowflake.ID, bool) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "SUB-") {
		return 0, false
	}
	raw, err := strconv.ParseInt(strings.TrimPrefix(ref, "SUB-"), 10, 64)
	if err != nil || raw <= 0 {
		return 0, false
	}
	return snowflake.ID(raw), true
}
