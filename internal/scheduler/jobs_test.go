package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	"github.com/dukapos/dukapos/internal/clock"
	appconfig "github.com/dukapos/dukapos/internal/config"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	ledgerrepo "github.com/dukapos/dukapos/internal/ledger/repository"
	ledgerservice "github.com/dukapos/dukapos/internal/ledger/service"
	"github.com/dukapos/dukapos/internal/mpesa"
	"github.com/dukapos/dukapos/internal/notification"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	planrepo "github.com/dukapos/dukapos/internal/plan/repository"
	"github.com/dukapos/dukapos/internal/providers/email"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	subscriptionrepo "github.com/dukapos/dukapos/internal/subscription/repository"
	tenantdomain "github.com/dukapos/dukapos/internal/tenant/domain"
	tenantrepo "github.com/dukapos/dukapos/internal/tenant/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type queryGatewayStub struct {
	mu       sync.Mutex
	statuses map[string]*mpesa.StatusResult
	err      error
	calls    int
}

func (g *queryGatewayStub) InitiateStkPush(ctx context.Context, creds mpesa.Credentials, req mpesa.StkPushRequest) (*mpesa.StkPushResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (g *queryGatewayStub) QueryStatus(ctx context.Context, creds mpesa.Credentials, checkoutRequestID string) (*mpesa.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	status, ok := g.statuses[checkoutRequestID]
	if !ok {
		return &mpesa.StatusResult{Pending: true}, nil
	}
	return status, nil
}

type activationRecorder struct {
	requests []activationdomain.FinalizeRequest
	err      error
}

func (a *activationRecorder) FinalizeFromPayment(ctx context.Context, req activationdomain.FinalizeRequest) (*activationdomain.Result, error) {
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	return &activationdomain.Result{Outcome: activationdomain.OutcomeActivated}, nil
}

type subsSvcRecorder struct {
	renewals []snowflake.ID
	err      error
}

func (s *subsSvcRecorder) Initiate(ctx context.Context, req subscriptiondomain.InitiateRequest) (*subscriptiondomain.InitiateResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *subsSvcRecorder) InitiateRenewal(ctx context.Context, subscriptionID snowflake.ID) (*subscriptiondomain.InitiateResponse, error) {
	s.renewals = append(s.renewals, subscriptionID)
	if s.err != nil {
		return nil, s.err
	}
	return &subscriptiondomain.InitiateResponse{SubscriptionID: subscriptionID}, nil
}

func (s *subsSvcRecorder) RecordClientReceipt(ctx context.Context, req subscriptiondomain.RecordReceiptRequest) (*subscriptiondomain.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *subsSvcRecorder) CancelAdministratively(ctx context.Context, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *subsSvcRecorder) Get(ctx context.Context, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *subsSvcRecorder) List(ctx context.Context, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

type publishRecorder struct {
	published []eventsdomain.PublishRequest
}

func (p *publishRecorder) Publish(ctx context.Context, req eventsdomain.PublishRequest) error {
	p.published = append(p.published, req)
	return nil
}

type schedFixture struct {
	sched      *Scheduler
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	gateway    *queryGatewayStub
	activation *activationRecorder
	subsSvc    *subsSvcRecorder
	notifier   *publishRecorder
	subsRepo   subscriptiondomain.Repository
	ledgerRepo ledgerdomain.Repository
	freePlan   *plandomain.Plan
}

func setupScheduler(t *testing.T) *schedFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Entry{},
		&subscriptiondomain.Subscription{},
		&plandomain.Plan{},
		&tenantdomain.Tenant{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	freePlan := &plandomain.Plan{
		ID:        node.Generate(),
		Code:      "free",
		Name:      "Free",
		Currency:  "KES",
		Interval:  plandomain.IntervalMonthly,
		IsDefault: true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(freePlan).Error)

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := &queryGatewayStub{statuses: map[string]*mpesa.StatusResult{}}
	activation := &activationRecorder{}
	subsSvc := &subsSvcRecorder{}
	notifier := &publishRecorder{}
	ledgerRepo := ledgerrepo.Provide()
	subsRepo := subscriptionrepo.Provide()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerRepo,
	})

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      fake,
		AppCfg:     appconfig.Config{DefaultPlanCode: "free"},
		Config:     DefaultConfig(),
		Dispatcher: notification.NewDispatcher(zap.NewNop(), &email.NoOpProvider{}),
		LedgerSvc:  ledgerSvc,
		LedgerRepo: ledgerRepo,
		SubsSvc:    subsSvc,
		SubsRepo:   subsRepo,
		Plans:      planrepo.Provide(),
		Tenants:    tenantrepo.Provide(),
		Activation: activation,
		Notifier:   notifier,
		Gateway:    gateway,
	})
	require.NoError(t, err)

	return &schedFixture{
		sched:      sched,
		db:         db,
		node:       node,
		clock:      fake,
		gateway:    gateway,
		activation: activation,
		subsSvc:    subsSvc,
		notifier:   notifier,
		subsRepo:   subsRepo,
		ledgerRepo: ledgerRepo,
		freePlan:   freePlan,
	}
}

func (f *schedFixture) insertPendingEntry(t *testing.T, correlationID string, age time.Duration) {
	t.Helper()
	createdAt := f.clock.Now().Add(-age)
	err := f.ledgerRepo.Insert(context.Background(), f.db, &ledgerdomain.Entry{
		ID:            f.node.Generate(),
		TenantID:      f.node.Generate(),
		CorrelationID: correlationID,
		AmountMinor:   150000,
		Currency:      "KES",
		Status:        ledgerdomain.EntryStatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	})
	require.NoError(t, err)
}

func (f *schedFixture) insertActiveSub(t *testing.T, endsAt time.Time, autoRenew bool, phone string) *subscriptiondomain.Subscription {
	t.Helper()
	now := f.clock.Now()
	starts := now.AddDate(0, -1, 0)
	sub := &subscriptiondomain.Subscription{
		ID:              f.node.Generate(),
		TenantID:        f.node.Generate(),
		PlanID:          f.node.Generate(),
		AmountMinor:     150000,
		Currency:        "KES",
		Status:          subscriptiondomain.StatusActive,
		IsActive:        true,
		IsVerified:      true,
		Phone:           phone,
		AutoRenew:       autoRenew,
		BillingInterval: "monthly",
		StartsAt:        &starts,
		EndsAt:          &endsAt,
		CreatedAt:       starts,
		UpdatedAt:       starts,
	}
	require.NoError(t, f.subsRepo.Insert(context.Background(), f.db, sub))
	return sub
}

func TestSweepPendingSettlesTerminalAnswers(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	f.insertPendingEntry(t, "ws_CO_stuck", 10*time.Minute)
	f.insertPendingEntry(t, "ws_CO_young", time.Minute)
	f.insertPendingEntry(t, "ws_CO_ancient", 25*time.Hour)
	f.gateway.statuses["ws_CO_stuck"] = &mpesa.StatusResult{ResultCode: 0, ResultDesc: "Success"}

	require.NoError(t, f.sched.sweepPendingJob(ctx, map[string]struct{}{}))

	// Only the stuck entry is inside the sweep window.
	assert.Equal(t, 1, f.gateway.calls)

	entry, err := f.ledgerRepo.FindByCorrelationID(ctx, f.db, "ws_CO_stuck")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusSuccess, entry.Status)

	require.Len(t, f.activation.requests, 1)
	assert.Equal(t, "ws_CO_stuck", f.activation.requests[0].CorrelationID)
	assert.Equal(t, activationdomain.SourceSweeper, f.activation.requests[0].Source)
}

func TestSweepPendingLeavesStillPendingAlone(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	f.insertPendingEntry(t, "ws_CO_1", 10*time.Minute)
	f.gateway.statuses["ws_CO_1"] = &mpesa.StatusResult{Pending: true}

	require.NoError(t, f.sched.sweepPendingJob(ctx, map[string]struct{}{}))

	entry, err := f.ledgerRepo.FindByCorrelationID(ctx, f.db, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusPending, entry.Status)
	assert.Empty(t, f.activation.requests)
}

func TestSweepsShareCorrelationSet(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	f.insertPendingEntry(t, "ws_CO_1", 10*time.Minute)
	f.gateway.statuses["ws_CO_1"] = &mpesa.StatusResult{ResultCode: 0}

	swept := map[string]struct{}{}
	require.NoError(t, f.sched.sweepPendingJob(ctx, swept))
	require.NoError(t, f.sched.sweepUnactivatedJob(ctx, swept))

	// The second sweep sees the settled entry but must not finalize it twice
	// within the same pass.
	assert.Len(t, f.activation.requests, 1)
}

func TestExpireSubscriptions(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	sub := f.insertActiveSub(t, f.clock.Now().Add(-time.Hour), false, "")
	require.NoError(t, f.db.Create(&tenantdomain.Tenant{
		ID:        sub.TenantID,
		Name:      "Mama Njeri Shop",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}).Error)

	require.NoError(t, f.sched.expireSubscriptionsJob(ctx))

	expired, err := f.subsRepo.FindByID(ctx, f.db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusExpired, expired.Status)
	assert.False(t, expired.IsActive)

	// The tenant falls back onto the free plan with no expiry.
	var tenant tenantdomain.Tenant
	require.NoError(t, f.db.Raw(`SELECT id, plan_id, plan_ends_at FROM tenants WHERE id = ?`, sub.TenantID).Scan(&tenant).Error)
	require.NotNil(t, tenant.PlanID)
	assert.Equal(t, f.freePlan.ID, *tenant.PlanID)
	assert.Nil(t, tenant.PlanEndsAt)

	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, eventsdomain.EventSubscriptionExpired, f.notifier.published[0].EventType)

	// A second pass finds nothing left to expire.
	require.NoError(t, f.sched.expireSubscriptionsJob(ctx))
	assert.Len(t, f.notifier.published, 1)
}

func TestExpireKeepsRenewedTenantOnPaidPlan(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	lapsed := f.insertActiveSub(t, f.clock.Now().Add(-time.Hour), true, "254708374149")

	// A renewal already opened a fresh paid period for the same tenant.
	now := f.clock.Now()
	renewedEnds := now.AddDate(0, 1, 0)
	renewed := &subscriptiondomain.Subscription{
		ID:              f.node.Generate(),
		TenantID:        lapsed.TenantID,
		PlanID:          lapsed.PlanID,
		AmountMinor:     150000,
		Currency:        "KES",
		Status:          subscriptiondomain.StatusActive,
		IsActive:        true,
		IsVerified:      true,
		Phone:           lapsed.Phone,
		AutoRenew:       true,
		BillingInterval: "monthly",
		StartsAt:        &now,
		EndsAt:          &renewedEnds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, f.subsRepo.Insert(ctx, f.db, renewed))

	paidPlanID := lapsed.PlanID
	require.NoError(t, f.db.Create(&tenantdomain.Tenant{
		ID:         lapsed.TenantID,
		Name:       "Mama Njeri Shop",
		PlanID:     &paidPlanID,
		PlanEndsAt: &renewedEnds,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}).Error)

	require.NoError(t, f.sched.expireSubscriptionsJob(ctx))

	old, err := f.subsRepo.FindByID(ctx, f.db, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusExpired, old.Status)

	current, err := f.subsRepo.FindByID(ctx, f.db, renewed.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, current.Status)

	// The pointer stays on the paid plan the renewed period carries.
	var tenant tenantdomain.Tenant
	require.NoError(t, f.db.Raw(`SELECT id, plan_id, plan_ends_at FROM tenants WHERE id = ?`, lapsed.TenantID).Scan(&tenant).Error)
	require.NotNil(t, tenant.PlanID)
	assert.Equal(t, paidPlanID, *tenant.PlanID)
	assert.NotNil(t, tenant.PlanEndsAt)
}

func TestRenewalAttemptsRespectCooldown(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	sub := f.insertActiveSub(t, f.clock.Now().Add(6*time.Hour), true, "254708374149")

	require.NoError(t, f.sched.renewalAttemptsJob(ctx))
	require.Len(t, f.subsSvc.renewals, 1)
	assert.Equal(t, sub.ID, f.subsSvc.renewals[0])

	// Within the cooldown the stamp refuses a second attempt.
	require.NoError(t, f.sched.renewalAttemptsJob(ctx))
	assert.Len(t, f.subsSvc.renewals, 1)
}

func TestRenewalWithoutAutoRenewPublishesEvent(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	f.insertActiveSub(t, f.clock.Now().Add(6*time.Hour), false, "")

	require.NoError(t, f.sched.renewalAttemptsJob(ctx))
	assert.Empty(t, f.subsSvc.renewals)
	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, eventsdomain.EventRenewalDue, f.notifier.published[0].EventType)
}

func TestExpiryRemindersOncePerDay(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	f.insertActiveSub(t, f.clock.Now().Add(48*time.Hour), false, "")

	require.NoError(t, f.sched.expiryRemindersJob(ctx))
	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, eventsdomain.EventExpiryReminder, f.notifier.published[0].EventType)

	// Same day: the reminder stamp blocks a repeat.
	require.NoError(t, f.sched.expiryRemindersJob(ctx))
	assert.Len(t, f.notifier.published, 1)

	// Next day: one more reminder goes out.
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.sched.expiryRemindersJob(ctx))
	assert.Len(t, f.notifier.published, 2)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := setupScheduler(t)
	f.sched.cfg.EnabledJobs = []string{"expire_subscriptions"}

	f.insertPendingEntry(t, "ws_CO_1", 10*time.Minute)
	f.gateway.statuses["ws_CO_1"] = &mpesa.StatusResult{ResultCode: 0}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.gateway.calls)
}
