package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/dukapos/dukapos/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, phone, email, plan_id, plan_ends_at, created_at, updated_at
		 FROM tenants WHERE id = ?`,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) SetPlanPointer(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID, endsAt time.Time) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET plan_id = ?, plan_ends_at = ?, updated_at = ? WHERE id = ?`,
		planID,
		endsAt,
		now,
		tenantID,
	).Error
}

func (r *repo) ResetPlanPointer(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET plan_id = ?, plan_ends_at = NULL, updated_at = ? WHERE id = ?`,
		planID,
		now,
		tenantID,
	).Error
}
