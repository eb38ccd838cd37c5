// Package scheduler runs the reconciliation sweeps and the subscription expiry
// pipeline on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	"github.com/dukapos/dukapos/internal/clock"
	appconfig "github.com/dukapos/dukapos/internal/config"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/mpesa"
	"github.com/dukapos/dukapos/internal/notification"
	obsmetrics "github.com/dukapos/dukapos/internal/observability/metrics"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	"github.com/dukapos/dukapos/internal/ratelimit"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	tenantdomain "github.com/dukapos/dukapos/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const sweepLockKey = "dukapos:scheduler:run"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	AppCfg     appconfig.Config
	Config     Config             `optional:"true"`
	Locker     *ratelimit.Locker  `optional:"true"`
	Dispatcher *notification.Dispatcher

	LedgerSvc  ledgerdomain.Service
	LedgerRepo ledgerdomain.Repository
	SubsSvc    subscriptiondomain.Service
	SubsRepo   subscriptiondomain.Repository
	Plans      plandomain.Repository
	Tenants    tenantdomain.Repository
	Activation activationdomain.Service
	Notifier   eventsdomain.Notifier
	Gateway    mpesa.Gateway
	Creds      mpesa.Credentials
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	appCfg     appconfig.Config
	clock      clock.Clock
	locker     *ratelimit.Locker
	dispatcher *notification.Dispatcher

	ledgerSvc  ledgerdomain.Service
	ledgerRepo ledgerdomain.Repository
	subsSvc    subscriptiondomain.Service
	subsRepo   subscriptiondomain.Repository
	plans      plandomain.Repository
	tenants    tenantdomain.Repository
	activation activationdomain.Service
	notifier   eventsdomain.Notifier
	gateway    mpesa.Gateway
	creds      mpesa.Credentials
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.LedgerSvc == nil || p.LedgerRepo == nil ||
		p.SubsSvc == nil || p.SubsRepo == nil || p.Plans == nil || p.Tenants == nil ||
		p.Activation == nil || p.Notifier == nil || p.Gateway == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		appCfg:     p.AppCfg,
		clock:      p.Clock,
		locker:     p.Locker,
		dispatcher: p.Dispatcher,
		ledgerSvc:  p.LedgerSvc,
		ledgerRepo: p.LedgerRepo,
		subsSvc:    p.SubsSvc,
		subsRepo:   p.SubsRepo,
		plans:      p.Plans,
		tenants:    p.Tenants,
		activation: p.Activation,
		notifier:   p.Notifier,
		gateway:    p.Gateway,
		creds:      p.Creds,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline is a soft failure: the next tick picks up where this one
	// stopped.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job once. A shared correlation-id set keeps
// the two sweeps from double-processing a payment inside the same pass.
func (s *Scheduler) RunOnce(parent context.Context) error {
	release, acquired := s.acquireRunLock(parent)
	if !acquired {
		s.log.Debug("another worker holds the scheduler lock, skipping pass")
		return nil
	}
	defer release()

	swept := make(map[string]struct{})
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"sweep_pending", 2 * time.Minute, func(ctx context.Context) error {
			return s.sweepPendingJob(ctx, swept)
		}},
		{"sweep_unactivated", 2 * time.Minute, func(ctx context.Context) error {
			return s.sweepUnactivatedJob(ctx, swept)
		}},
		{"expire_subscriptions", 30 * time.Second, s.expireSubscriptionsJob},
		{"renewal_attempts", 2 * time.Minute, s.renewalAttemptsJob},
		{"expiry_reminders", 30 * time.Second, s.expiryRemindersJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// acquireRunLock takes the cross-worker advisory lock when redis is
// configured. Without redis every worker sweeps; the conditional updates
// underneath keep that correct, just wasteful.
func (s *Scheduler) acquireRunLock(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.RunInterval)
	if err != nil {
		s.log.Warn("scheduler lock unavailable, proceeding without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
			s.log.Warn("failed to release scheduler lock", zap.Error(err))
		}
	}, true
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means all jobs run (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
