package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/notification"
	obsmetrics "github.com/dukapos/dukapos/internal/observability/metrics"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"go.uber.org/zap"
)

// sweepPendingJob asks the gateway about pending ledger entries whose callback
// never arrived. Still-pending and errored candidates stay pending for the
// next pass; terminal answers flow through the same finalize path a callback
// would have taken.
func (s *Scheduler) sweepPendingJob(ctx context.Context, swept map[string]struct{}) error {
	now := s.clock.Now()
	olderThan := now.Add(-s.cfg.StuckAfter)
	notBefore := now.Add(-s.cfg.RetentionWindow)

	entries, err := s.ledgerRepo.FindStuckPending(ctx, s.db, olderThan, notBefore, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for i := range entries {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		entry := &entries[i]
		if _, seen := swept[entry.CorrelationID]; seen {
			continue
		}
		swept[entry.CorrelationID] = struct{}{}

		status, err := s.queryGateway(ctx, entry.CorrelationID)
		if err != nil {
			schedMetrics.IncGatewayQuery("error")
			schedMetrics.IncCandidate("sweep_pending", "query_error")
			s.log.Warn("gateway status query failed",
				zap.String("correlation_id", entry.CorrelationID),
				zap.Error(err),
			)
			continue
		}
		if status.Pending {
			schedMetrics.IncGatewayQuery("pending")
			schedMetrics.IncCandidate("sweep_pending", "still_pending")
			continue
		}
		schedMetrics.IncGatewayQuery("terminal")

		if err := s.settle(ctx, entry.CorrelationID, status.ResultCode, status.ResultDesc); err != nil {
			schedMetrics.IncCandidate("sweep_pending", "error")
			jobErr = errors.Join(jobErr, err)
			continue
		}
		schedMetrics.IncCandidate("sweep_pending", "settled")
	}
	return jobErr
}

func (s *Scheduler) queryGateway(ctx context.Context, correlationID string) (*mpesaStatus, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	status, err := s.gateway.QueryStatus(queryCtx, s.creds, correlationID)
	if err != nil {
		return nil, err
	}
	return &mpesaStatus{Pending: status.Pending, ResultCode: status.ResultCode, ResultDesc: status.ResultDesc}, nil
}

type mpesaStatus struct {
	Pending    bool
	ResultCode int
	ResultDesc string
}

// settle applies a terminal gateway answer: ledger first, then activation.
func (s *Scheduler) settle(ctx context.Context, correlationID string, resultCode int, resultDesc string) error {
	_, err := s.ledgerSvc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: correlationID,
		ResultCode:    resultCode,
		ResultDesc:    resultDesc,
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrAlreadyFinalized) {
		return fmt.Errorf("apply gateway status %s: %w", correlationID, err)
	}
	return s.finalize(ctx, correlationID, resultCode, resultDesc, nil)
}

func (s *Scheduler) finalize(ctx context.Context, correlationID string, resultCode int, resultDesc string, receipt *string) error {
	req := activationdomain.FinalizeRequest{
		CorrelationID: correlationID,
		ResultCode:    resultCode,
		ResultDesc:    resultDesc,
		Receipt:       receipt,
		Source:        activationdomain.SourceSweeper,
	}
	_, err := s.activation.FinalizeFromPayment(ctx, req)
	if errors.Is(err, activationdomain.ErrActivationConflict) {
		_, err = s.activation.FinalizeFromPayment(ctx, req)
	}
	if errors.Is(err, activationdomain.ErrUnresolvedSubscription) {
		// Counted by the resolver; nothing more this pass can do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize %s: %w", correlationID, err)
	}
	return nil
}

// sweepUnactivatedJob retries activation for money that settled but never
// reached an active subscription.
func (s *Scheduler) sweepUnactivatedJob(ctx context.Context, swept map[string]struct{}) error {
	entries, err := s.ledgerRepo.FindSettledUnactivated(ctx, s.db, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for i := range entries {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		entry := &entries[i]
		if _, seen := swept[entry.CorrelationID]; seen {
			continue
		}
		swept[entry.CorrelationID] = struct{}{}

		resultCode := 0
		if entry.ResultCode != nil {
			resultCode = *entry.ResultCode
		}
		if err := s.finalize(ctx, entry.CorrelationID, resultCode, entry.ResultDesc, entry.Receipt); err != nil {
			schedMetrics.IncCandidate("sweep_unactivated", "error")
			jobErr = errors.Join(jobErr, err)
			continue
		}
		schedMetrics.IncCandidate("sweep_unactivated", "finalized")
	}
	return jobErr
}

// expireSubscriptionsJob lapses paid periods that have run out and moves the
// tenant back onto the free plan.
func (s *Scheduler) expireSubscriptionsJob(ctx context.Context) error {
	now := s.clock.Now()
	subs, err := s.subsRepo.FindExpired(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	freePlan, err := s.freePlan(ctx)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for i := range subs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		sub := &subs[i]

		moved, err := s.subsRepo.MarkExpired(ctx, s.db, sub.ID, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !moved {
			// A concurrent renewal or cancel got there first.
			schedMetrics.IncCandidate("expire_subscriptions", "skipped")
			continue
		}
		schedMetrics.IncTransition(string(subscriptiondomain.StatusActive), string(subscriptiondomain.StatusExpired))
		schedMetrics.IncCandidate("expire_subscriptions", "expired")

		if freePlan != nil {
			stillPaid, checkErr := s.subsRepo.HasOtherActive(ctx, s.db, sub.TenantID, sub.ID)
			switch {
			case checkErr != nil:
				jobErr = errors.Join(jobErr, checkErr)
			case stillPaid:
				// A renewed period is already active; the pointer stays on the
				// paid plan.
				schedMetrics.IncCandidate("expire_subscriptions", "renewed")
			default:
				if err := s.tenants.ResetPlanPointer(ctx, s.db, sub.TenantID, freePlan.ID); err != nil {
					jobErr = errors.Join(jobErr, err)
				}
			}
		}

		s.log.Info("subscription expired",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", sub.TenantID.String()),
		)
		if err := s.notifier.Publish(ctx, eventsdomain.PublishRequest{
			TenantID:  sub.TenantID,
			EventType: eventsdomain.EventSubscriptionExpired,
			DedupeKey: "expired:" + sub.ID.String(),
			Payload: map[string]interface{}{
				"subscription_id": sub.ID.String(),
				"plan_id":         sub.PlanID.String(),
			},
		}); err != nil {
			s.log.Warn("failed to publish expiry event", zap.Error(err))
		}
	}
	return jobErr
}

func (s *Scheduler) freePlan(ctx context.Context) (*plandomain.Plan, error) {
	found, err := s.plans.FindByCode(ctx, s.db, s.appCfg.DefaultPlanCode)
	if err != nil {
		return nil, err
	}
	if found == nil {
		if found, err = s.plans.FindDefault(ctx, s.db); err != nil {
			return nil, err
		}
	}
	if found == nil {
		s.log.Warn("no default plan configured, leaving plan pointers in place")
	}
	return found, nil
}

// renewalAttemptsJob fires one renewal attempt per cooldown window for
// subscriptions nearing expiry. The attempt stamp is written before the charge
// so a crash cannot double-bill.
func (s *Scheduler) renewalAttemptsJob(ctx context.Context) error {
	now := s.clock.Now()
	until := now.Add(s.cfg.RenewalLookahead)
	attemptedBefore := now.Add(-s.cfg.RenewalCooldown)

	subs, err := s.subsRepo.FindRenewalCandidates(ctx, s.db, now, until, attemptedBefore, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for i := range subs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		sub := &subs[i]

		stamped, err := s.subsRepo.StampRenewalAttempt(ctx, s.db, sub.ID, now, attemptedBefore)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !stamped {
			schedMetrics.IncCandidate("renewal_attempts", "skipped")
			continue
		}

		if sub.AutoRenew && sub.Phone != "" {
			if _, err := s.subsSvc.InitiateRenewal(ctx, sub.ID); err != nil {
				schedMetrics.IncCandidate("renewal_attempts", "charge_failed")
				s.log.Warn("renewal charge failed",
					zap.String("subscription_id", sub.ID.String()),
					zap.Error(err),
				)
				continue
			}
			schedMetrics.IncCandidate("renewal_attempts", "charged")
			continue
		}

		schedMetrics.IncCandidate("renewal_attempts", "notified")
		if err := s.notifier.Publish(ctx, eventsdomain.PublishRequest{
			TenantID:  sub.TenantID,
			EventType: eventsdomain.EventRenewalDue,
			DedupeKey: fmt.Sprintf("renewal_due:%s:%d", sub.ID.String(), now.Unix()/int64(s.cfg.RenewalCooldown.Seconds())),
			Payload: map[string]interface{}{
				"subscription_id": sub.ID.String(),
				"ends_at":         endsAtString(sub),
			},
		}); err != nil {
			s.log.Warn("failed to publish renewal event", zap.Error(err))
		}
	}
	return jobErr
}

// expiryRemindersJob sends at most one reminder per subscription per calendar
// day once expiry is inside the reminder window.
func (s *Scheduler) expiryRemindersJob(ctx context.Context) error {
	now := s.clock.Now()
	until := now.Add(s.cfg.ReminderWindow)
	today := now.Format("2006-01-02")

	subs, err := s.subsRepo.FindReminderCandidates(ctx, s.db, now, until, today, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for i := range subs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		sub := &subs[i]

		stamped, err := s.subsRepo.StampReminderSent(ctx, s.db, sub.ID, today, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !stamped {
			schedMetrics.IncCandidate("expiry_reminders", "skipped")
			continue
		}
		schedMetrics.IncCandidate("expiry_reminders", "sent")

		if err := s.notifier.Publish(ctx, eventsdomain.PublishRequest{
			TenantID:  sub.TenantID,
			EventType: eventsdomain.EventExpiryReminder,
			DedupeKey: fmt.Sprintf("reminder:%s:%s", sub.ID.String(), today),
			Payload: map[string]interface{}{
				"subscription_id": sub.ID.String(),
				"ends_at":         endsAtString(sub),
			},
		}); err != nil {
			s.log.Warn("failed to publish reminder event", zap.Error(err))
		}

		s.remindByEmail(ctx, sub)
	}
	return jobErr
}

func (s *Scheduler) remindByEmail(ctx context.Context, sub *subscriptiondomain.Subscription) {
	tenant, err := s.tenants.FindByID(ctx, s.db, sub.TenantID)
	if err != nil || tenant == nil || tenant.Email == "" {
		return
	}
	endsAt := "soon"
	if sub.EndsAt != nil {
		endsAt = sub.EndsAt.Format("2 January 2006")
	}
	s.dispatcher.Enqueue(notification.Job{
		To:      tenant.Email,
		Subject: "Your subscription expires " + endsAt,
		Body: fmt.Sprintf(
			"<p>Hi %s,</p><p>Your subscription expires on %s. Renew to keep your point of sale running.</p>",
			tenant.Name,
			endsAt,
		),
	})
}

func endsAtString(sub *subscriptiondomain.Subscription) string {
	if sub.EndsAt == nil {
		return ""
	}
	return sub.EndsAt.Format(time.RFC3339)
}
