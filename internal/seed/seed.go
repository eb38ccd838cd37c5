// Package seed bootstraps reference data a fresh install needs.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{Code: "free", Name: "Free", AmountMinor: 0, Interval: plandomain.IntervalMonthly},
	{Code: "standard_monthly", Name: "Standard (Monthly)", AmountMinor: 150000, Interval: plandomain.IntervalMonthly},
	{Code: "standard_yearly", Name: "Standard (Yearly)", AmountMinor: 1500000, Interval: plandomain.IntervalYearly},
}

// EnsureDefaultPlans inserts the built-in plan catalog if it is missing. The
// plan matching defaultCode becomes the fallback tenants land on at expiry.
func EnsureDefaultPlans(db *gorm.DB, defaultCode string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans {
			var count int64
			if err := tx.WithContext(ctx).Raw(
				`SELECT COUNT(1) FROM plans WHERE code = ?`, plan.Code,
			).Scan(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			now := time.Now().UTC()
			plan.ID = node.Generate()
			plan.Currency = "KES"
			plan.IsDefault = strings.EqualFold(plan.Code, defaultCode)
			plan.CreatedAt = now
			plan.UpdatedAt = now
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO plans (id, code, name, amount_minor, currency, interval, is_default, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				plan.ID, plan.Code, plan.Name, plan.AmountMinor, plan.Currency,
				plan.Interval, plan.IsDefault, plan.CreatedAt, plan.UpdatedAt,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
