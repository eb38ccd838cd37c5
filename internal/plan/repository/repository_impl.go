package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, amount_minor, currency, interval, is_default, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, amount_minor, currency, interval, is_default, created_at, updated_at
		 FROM plans WHERE code = ? LIMIT 1`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindDefault(ctx context.Context, db *gorm.DB) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, amount_minor, currency, interval, is_default, created_at, updated_at
		 FROM plans WHERE is_default = ? ORDER BY created_at ASC LIMIT 1`,
		true,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}
