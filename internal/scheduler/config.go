package scheduler

import (
	"time"

	"github.com/dukapos/dukapos/internal/config"
)

// Config controls scheduler intervals, windows and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// StuckAfter is how long a pending ledger entry may wait for its callback
	// before the sweep queries the gateway for it.
	StuckAfter time.Duration
	// RetentionWindow bounds how far back the sweep looks. Older pending rows
	// are abandoned to manual reconciliation.
	RetentionWindow time.Duration
	// RenewalLookahead is how close to expiry a subscription must be before a
	// renewal attempt fires.
	RenewalLookahead time.Duration
	// RenewalCooldown is the minimum gap between renewal attempts for one
	// subscription.
	RenewalCooldown time.Duration
	// ReminderWindow is how close to expiry the daily reminder starts.
	ReminderWindow time.Duration
	// QueryTimeout bounds each per-candidate gateway status query.
	QueryTimeout time.Duration
	// EnabledJobs limits which jobs run; empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		BatchSize:        50,
		StuckAfter:       5 * time.Minute,
		RetentionWindow:  24 * time.Hour,
		RenewalLookahead: 24 * time.Hour,
		RenewalCooldown:  12 * time.Hour,
		ReminderWindow:   72 * time.Hour,
		QueryTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaults.StuckAfter
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = defaults.RetentionWindow
	}
	if c.RenewalLookahead <= 0 {
		c.RenewalLookahead = defaults.RenewalLookahead
	}
	if c.RenewalCooldown <= 0 {
		c.RenewalCooldown = defaults.RenewalCooldown
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = defaults.ReminderWindow
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaults.QueryTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:     cfg.Scheduler.RunInterval,
		BatchSize:       cfg.Scheduler.BatchSize,
		StuckAfter:      cfg.Scheduler.StuckAfter,
		RetentionWindow: cfg.Scheduler.RetentionWindow,
	}
}
