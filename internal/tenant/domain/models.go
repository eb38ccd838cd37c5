// Package domain contains the tenant record and its plan pointer.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Tenant is a business on the platform. PlanID and PlanEndsAt form the plan
// pointer: they are written only by the activation service and the expiry job,
// never by general tenant edits, so billing state cannot race with CRUD traffic.
type Tenant struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	Name       string        `gorm:"type:text;not null"`
	Phone      string        `gorm:"type:text"`
	Email      string        `gorm:"type:text"`
	PlanID     *snowflake.ID `gorm:"index"`
	PlanEndsAt *time.Time    `gorm:""`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	// SetPlanPointer overwrites the plan pointer. Callers must hold the tenant
	// row inside the activation transaction.
	SetPlanPointer(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID, endsAt time.Time) error
	// ResetPlanPointer moves the tenant back to the given (free) plan with no expiry.
	ResetPlanPointer(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID) error
}
