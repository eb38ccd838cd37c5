package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	"github.com/dukapos/dukapos/internal/clock"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/notification"
	"github.com/dukapos/dukapos/internal/observability/metrics"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	tenantdomain "github.com/dukapos/dukapos/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	strategyCorrelation  = "correlation_id"
	strategyMerchantRef  = "merchant_ref"
	strategyTenantAmount = "tenant_amount"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Subs       subscriptiondomain.Repository
	Ledger     ledgerdomain.Repository
	Plans      plandomain.Repository
	Tenants    tenantdomain.Repository
	Notifier   eventsdomain.Notifier
	Dispatcher *notification.Dispatcher
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	subs       subscriptiondomain.Repository
	ledger     ledgerdomain.Repository
	plans      plandomain.Repository
	tenants    tenantdomain.Repository
	notifier   eventsdomain.Notifier
	dispatcher *notification.Dispatcher
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("activation.service"),
		clock:      p.Clock,
		subs:       p.Subs,
		ledger:     p.Ledger,
		plans:      p.Plans,
		tenants:    p.Tenants,
		notifier:   p.Notifier,
		dispatcher: p.Dispatcher,
	}
}

var _ activationdomain.Service = (*Service)(nil)

func (s *Service) FinalizeFromPayment(ctx context.Context, req activationdomain.FinalizeRequest) (*activationdomain.Result, error) {
	entry, err := s.ledger.FindByCorrelationID(ctx, s.db, req.CorrelationID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ledgerdomain.ErrEntryNotFound
	}

	sub, strategy, err := s.resolve(ctx, entry)
	if err != nil {
		metrics.Payments().IncUnresolved()
		s.log.Warn("payment could not be attributed",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("merchant_ref", entry.MerchantRef),
			zap.String("tenant_id", entry.TenantID.String()),
		)
		return nil, err
	}
	log := s.log.With(
		zap.String("correlation_id", req.CorrelationID),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("strategy", strategy),
		zap.String("source", string(req.Source)),
	)

	if req.ResultCode != 0 {
		return s.finalizeFailure(ctx, req, sub, strategy, log)
	}
	return s.finalizeSuccess(ctx, req, entry, sub, strategy, log)
}

// resolve attributes the ledger entry to a subscription. The strategies are
// ordered from exact to heuristic and the first hit wins.
func (s *Service) resolve(ctx context.Context, entry *ledgerdomain.Entry) (*subscriptiondomain.Subscription, string, error) {
	sub, err := s.subs.FindByCorrelationID(ctx, s.db, entry.CorrelationID)
	if err != nil {
		return nil, "", err
	}
	if sub != nil {
		return sub, strategyCorrelation, nil
	}

	if id, ok := subscriptiondomain.ParseMerchantRef(entry.MerchantRef); ok {
		sub, err = s.subs.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, "", err
		}
		if sub != nil && (entry.TenantID == 0 || sub.TenantID == entry.TenantID) {
			return sub, strategyMerchantRef, nil
		}
	}

	// Heuristic fallback: newest awaiting record for the tenant with the same
	// amount. Two identical concurrent purchases by one tenant can be
	// misattributed here; the amount and tenant still match, so the money goes
	// to a record the tenant owns.
	if entry.TenantID != 0 {
		sub, err = s.subs.FindLatestAwaitingByTenantAndAmount(ctx, s.db, entry.TenantID, entry.AmountMinor)
		if err != nil {
			return nil, "", err
		}
		if sub != nil {
			return sub, strategyTenantAmount, nil
		}
	}

	return nil, "", activationdomain.ErrUnresolvedSubscription
}

func (s *Service) finalizeFailure(ctx context.Context, req activationdomain.FinalizeRequest, sub *subscriptiondomain.Subscription, strategy string, log *zap.Logger) (*activationdomain.Result, error) {
	if sub.Status == subscriptiondomain.StatusActive {
		// A late failure result for an already-active record changes nothing.
		metrics.Payments().IncActivation(string(activationdomain.OutcomeAlreadyActive), string(req.Source))
		log.Info("subscription already active, failure result ignored")
		return &activationdomain.Result{
			Outcome:        activationdomain.OutcomeAlreadyActive,
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			Strategy:       strategy,
		}, nil
	}

	if sub.Awaitable() {
		cancelled, err := s.subs.Cancel(ctx, s.db, sub.ID, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if cancelled {
			metrics.Scheduler().IncTransition(string(sub.Status), string(subscriptiondomain.StatusCancelled))
			log.Info("subscription cancelled for failed payment",
				zap.Int("result_code", req.ResultCode),
				zap.String("result_desc", req.ResultDesc),
			)
		}
	}
	metrics.Payments().IncActivation(string(activationdomain.OutcomeNotActivated), string(req.Source))

	if err := s.notifier.Publish(ctx, eventsdomain.PublishRequest{
		TenantID:  sub.TenantID,
		EventType: eventsdomain.EventPaymentFailed,
		DedupeKey: "payment.failed:" + req.CorrelationID,
		Payload: map[string]interface{}{
			"subscription_id": sub.ID.String(),
			"correlation_id":  req.CorrelationID,
			"result_code":     req.ResultCode,
			"result_desc":     req.ResultDesc,
		},
	}); err != nil {
		log.Warn("failed to publish payment.failed event", zap.Error(err))
	}

	return &activationdomain.Result{
		Outcome:        activationdomain.OutcomeNotActivated,
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Strategy:       strategy,
	}, nil
}

func (s *Service) finalizeSuccess(ctx context.Context, req activationdomain.FinalizeRequest, entry *ledgerdomain.Entry, sub *subscriptiondomain.Subscription, strategy string, log *zap.Logger) (*activationdomain.Result, error) {
	now := s.clock.Now()
	var (
		outcome activationdomain.Outcome
		endsAt  time.Time
		planID  snowflake.ID
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.subs.FindByIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return activationdomain.ErrUnresolvedSubscription
		}
		if locked.Status == subscriptiondomain.StatusActive {
			outcome = activationdomain.OutcomeAlreadyActive
			return nil
		}

		endsAt, err = s.periodEnd(ctx, tx, locked, now)
		if err != nil {
			return err
		}
		planID = locked.PlanID

		won, err := s.subs.Activate(ctx, tx, locked.ID, req.Receipt, now, endsAt, now)
		if err != nil {
			return err
		}
		if !won {
			return activationdomain.ErrActivationConflict
		}

		if err := s.tenants.SetPlanPointer(ctx, tx, locked.TenantID, locked.PlanID, endsAt); err != nil {
			return err
		}
		// Heuristically resolved records get the correlation id backfilled so
		// replays resolve exactly.
		if locked.CorrelationID == nil || *locked.CorrelationID != req.CorrelationID {
			if err := s.subs.SetCorrelationID(ctx, tx, locked.ID, req.CorrelationID); err != nil {
				return err
			}
		}
		if req.Source != activationdomain.SourceCallback {
			if err := s.ledger.MarkAutoReconciled(ctx, tx, req.CorrelationID); err != nil {
				return err
			}
		}
		outcome = activationdomain.OutcomeActivated
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &activationdomain.Result{
		Outcome:        outcome,
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Strategy:       strategy,
	}
	metrics.Payments().IncActivation(string(outcome), string(req.Source))
	if outcome == activationdomain.OutcomeAlreadyActive {
		log.Info("subscription already active, finalize is a no-op")
		return result, nil
	}

	metrics.Scheduler().IncTransition(string(sub.Status), string(subscriptiondomain.StatusActive))
	log.Info("subscription activated", zap.Time("ends_at", endsAt))
	s.announceActivation(ctx, req, sub, entry, planID, endsAt, log)
	return result, nil
}

// periodEnd computes the paid-through date from the plan catalog, falling back
// to the interval captured on the record when the plan row is gone.
func (s *Service) periodEnd(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, from time.Time) (time.Time, error) {
	plan, err := s.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return time.Time{}, err
	}
	if plan != nil {
		return plan.PeriodEnd(from), nil
	}
	if sub.BillingInterval == string(plandomain.IntervalYearly) {
		return from.AddDate(1, 0, 0), nil
	}
	return from.AddDate(0, 1, 0), nil
}

// announceActivation runs after the commit. Everything here is best effort.
func (s *Service) announceActivation(ctx context.Context, req activationdomain.FinalizeRequest, sub *subscriptiondomain.Subscription, entry *ledgerdomain.Entry, planID snowflake.ID, endsAt time.Time, log *zap.Logger) {
	payload := map[string]interface{}{
		"subscription_id": sub.ID.String(),
		"plan_id":         planID.String(),
		"correlation_id":  req.CorrelationID,
		"ends_at":         endsAt.Format(time.RFC3339),
		"source":          string(req.Source),
	}
	if req.Receipt != nil {
		payload["receipt"] = *req.Receipt
	}
	if err := s.notifier.Publish(ctx, eventsdomain.PublishRequest{
		TenantID:  sub.TenantID,
		EventType: eventsdomain.EventSubscriptionActivated,
		DedupeKey: "activated:" + req.CorrelationID,
		Payload:   payload,
	}); err != nil {
		log.Warn("failed to publish activation event", zap.Error(err))
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, sub.TenantID)
	if err != nil || tenant == nil || tenant.Email == "" {
		return
	}
	receipt := ""
	if req.Receipt != nil {
		receipt = *req.Receipt
	}
	s.dispatcher.Enqueue(notification.Job{
		To:      tenant.Email,
		Subject: "Payment received",
		Body: fmt.Sprintf(
			"<p>Hi %s,</p><p>We received your payment of %s %.2f (receipt %s). Your subscription is active until %s.</p>",
			tenant.Name,
			entry.Currency,
			float64(entry.AmountMinor)/100,
			receipt,
			endsAt.Format("2 January 2006"),
		),
	})
}
