package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/dukapos/dukapos/internal/clock"
	"github.com/dukapos/dukapos/internal/config"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/mpesa"
	"github.com/dukapos/dukapos/internal/observability/metrics"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    subscriptiondomain.Repository
	Plans   plandomain.Repository
	Ledger  ledgerdomain.Service
	Gateway mpesa.Gateway
	Creds   mpesa.Credentials
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	repo    subscriptiondomain.Repository
	plans   plandomain.Repository
	ledger  ledgerdomain.Service
	gateway mpesa.Gateway
	creds   mpesa.Credentials
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		plans:   p.Plans,
		ledger:  p.Ledger,
		gateway: p.Gateway,
		creds:   p.Creds,
	}
}

var _ subscriptiondomain.Service = (*Service)(nil)

func (s *Service) Initiate(ctx context.Context, req subscriptiondomain.InitiateRequest) (*subscriptiondomain.InitiateResponse, error) {
	phone := strings.TrimSpace(req.Phone)
	planCode := strings.TrimSpace(req.PlanCode)
	if req.TenantID == 0 || phone == "" || planCode == "" {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	plan, err := s.plans.FindByCode(ctx, s.db, planCode)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if plan.AmountMinor <= 0 {
		// Free tiers are assigned directly, not purchased.
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	return s.initiateForPlan(ctx, req.TenantID, plan, phone, req.AutoRenew)
}

func (s *Service) InitiateRenewal(ctx context.Context, subscriptionID snowflake.ID) (*subscriptiondomain.InitiateResponse, error) {
	prior, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !prior.AutoRenew || prior.Phone == "" {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	plan, err := s.plans.FindByID(ctx, s.db, prior.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return s.initiateForPlan(ctx, prior.TenantID, plan, prior.Phone, prior.AutoRenew)
}

func (s *Service) initiateForPlan(ctx context.Context, tenantID snowflake.ID, plan *plandomain.Plan, phone string, autoRenew bool) (*subscriptiondomain.InitiateResponse, error) {
	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		PlanID:          plan.ID,
		AmountMinor:     plan.AmountMinor,
		Currency:        plan.Currency,
		Status:          subscriptiondomain.StatusPending,
		Phone:           phone,
		AutoRenew:       autoRenew,
		BillingInterval: string(plan.Interval),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	resp, err := s.gateway.InitiateStkPush(ctx, s.creds, mpesa.StkPushRequest{
		Phone:            phone,
		AmountMinor:      plan.AmountMinor,
		AccountReference: sub.MerchantRef(),
		Description:      plan.Name,
		CallbackURL:      s.cfg.Mpesa.CallbackBaseURL + "/api/v1/webhooks/mpesa",
	})
	if err != nil {
		metrics.Payments().IncStkInitiation("gateway_error")
		s.log.Error("stk push failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", sub.TenantID.String()),
			zap.Error(err),
		)
		if _, cancelErr := s.repo.Cancel(ctx, s.db, sub.ID, s.clock.Now()); cancelErr != nil {
			s.log.Error("failed to cancel subscription after push failure",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(cancelErr),
			)
		}
		return nil, subscriptiondomain.ErrInitiationFailed
	}

	// Two independent writes, ledger row first. The push is already on the
	// customer's phone; if the correlation write never lands the sweeper
	// attributes the payment through the merchant reference on the ledger row.
	if _, err := s.ledger.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: resp.CheckoutRequestID,
		TenantID:      sub.TenantID,
		MerchantRef:   sub.MerchantRef(),
		AmountMinor:   sub.AmountMinor,
		Currency:      sub.Currency,
		Phone:         phone,
	}); err != nil {
		metrics.Payments().IncStkInitiation("record_error")
		s.log.Error("failed to record initiation",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("correlation_id", resp.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, subscriptiondomain.ErrInitiationFailed
	}
	if err := s.repo.SetCorrelationID(ctx, s.db, sub.ID, resp.CheckoutRequestID); err != nil {
		metrics.Payments().IncStkInitiation("record_error")
		s.log.Error("failed to record correlation id",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("correlation_id", resp.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, subscriptiondomain.ErrInitiationFailed
	}

	metrics.Payments().IncStkInitiation("accepted")
	s.log.Info("subscription initiated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("plan_code", plan.Code),
		zap.String("correlation_id", resp.CheckoutRequestID),
	)
	return &subscriptiondomain.InitiateResponse{
		SubscriptionID:  sub.ID,
		CorrelationID:   resp.CheckoutRequestID,
		CustomerMessage: resp.CustomerMessage,
	}, nil
}

func (s *Service) RecordClientReceipt(ctx context.Context, req subscriptiondomain.RecordReceiptRequest) (*subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 || req.SubscriptionID == 0 {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	sub, err := s.repo.FindByID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.TenantID != req.TenantID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status == subscriptiondomain.StatusActive {
		// Callback got there first. Report success, the receipt is already
		// verified server-side.
		return sub, nil
	}
	if !sub.Awaitable() {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	var receipt *string
	if r := strings.TrimSpace(req.Receipt); r != "" {
		receipt = &r
	}
	moved, err := s.repo.MarkPendingVerification(ctx, s.db, sub.ID, receipt, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if moved {
		s.log.Info("client receipt recorded",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", sub.TenantID.String()),
		)
	}
	return s.repo.FindByID(ctx, s.db, sub.ID)
}

func (s *Service) CancelAdministratively(ctx context.Context, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.TenantID != tenantID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.Awaitable() {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	cancelled, err := s.repo.Cancel(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !cancelled {
		// Lost the race against a concurrent activation.
		return nil, subscriptiondomain.ErrInvalidTransition
	}
	s.log.Info("subscription cancelled administratively",
		zap.String("subscription_id", id.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.TenantID != tenantID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	return s.repo.List(ctx, s.db, tenantID, defaultListLimit)
}
