// Package domain contains the billing plan catalog.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BillingInterval is the cadence a plan renews on.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// Plan is a purchasable subscription tier. The default plan is the free tier a
// tenant falls back to when a paid subscription expires.
type Plan struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	Code        string          `gorm:"type:text;not null;uniqueIndex"`
	Name        string          `gorm:"type:text;not null"`
	AmountMinor int64           `gorm:"not null"`
	Currency    string          `gorm:"type:text;not null;default:'KES'"`
	Interval    BillingInterval `gorm:"type:text;not null;default:'monthly'"`
	IsDefault   bool            `gorm:"not null;default:false"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PeriodEnd returns the expiry for a period starting at from.
func (p Plan) PeriodEnd(from time.Time) time.Time {
	if p.Interval == IntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindDefault(ctx context.Context, db *gorm.DB) (*Plan, error)
}

var ErrPlanNotFound = errors.New("plan_not_found")
