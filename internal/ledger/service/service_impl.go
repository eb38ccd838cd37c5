package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  ledgerdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

var _ ledgerdomain.Service = (*Service)(nil)

func (s *Service) RecordInitiation(ctx context.Context, req ledgerdomain.RecordInitiationRequest) (*ledgerdomain.Entry, error) {
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" || req.TenantID == 0 || req.AmountMinor <= 0 {
		return nil, ledgerdomain.ErrInvalidEntry
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "KES"
	}

	now := time.Now().UTC()
	entry := &ledgerdomain.Entry{
		ID:            s.genID.Generate(),
		TenantID:      req.TenantID,
		CorrelationID: correlationID,
		MerchantRef:   req.MerchantRef,
		AmountMinor:   req.AmountMinor,
		Currency:      currency,
		Phone:         req.Phone,
		Status:        ledgerdomain.EntryStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.repo.Insert(ctx, s.db, entry)
	if err == nil {
		return entry, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	existing, findErr := s.repo.FindByCorrelationID(ctx, s.db, correlationID)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	if existing.Terminal() {
		return existing, ledgerdomain.ErrDuplicateCorrelationID
	}

	// A pending row for the same checkout means the client retried initiation
	// before the gateway answered. Refresh rather than reject.
	if _, refreshErr := s.repo.RefreshPending(ctx, s.db, correlationID, req.AmountMinor, req.Phone); refreshErr != nil {
		return nil, refreshErr
	}
	existing.AmountMinor = req.AmountMinor
	existing.Phone = req.Phone
	return existing, nil
}

func (s *Service) ApplyCallback(ctx context.Context, req ledgerdomain.ApplyCallbackRequest) (*ledgerdomain.Entry, error) {
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		return nil, ledgerdomain.ErrInvalidEntry
	}
	status := ledgerdomain.StatusForResultCode(req.ResultCode)

	won, err := s.repo.Finalize(ctx, s.db, correlationID, status, req.ResultCode, req.ResultDesc, req.Receipt, req.RawPayload)
	if err != nil {
		return nil, err
	}
	if won {
		entry, err := s.repo.FindByCorrelationID(ctx, s.db, correlationID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, ledgerdomain.ErrEntryNotFound
		}
		return entry, nil
	}

	existing, err := s.repo.FindByCorrelationID(ctx, s.db, correlationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// First terminal write wins; this delivery is a replay.
		return existing, ledgerdomain.ErrAlreadyFinalized
	}

	// Callback raced ahead of the local pending row. Record an orphan terminal
	// entry so the payment is never lost; the sweeper will attribute it later.
	orphan, err := s.insertOrphan(ctx, correlationID, status, req)
	if err == nil {
		s.log.Warn("recorded orphan ledger entry for early callback",
			zap.String("correlation_id", correlationID),
			zap.Int("result_code", req.ResultCode),
		)
		return orphan, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	// Lost the insert race with a concurrent delivery of the same callback.
	existing, findErr := s.repo.FindByCorrelationID(ctx, s.db, correlationID)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, ledgerdomain.ErrAlreadyFinalized
}

func (s *Service) insertOrphan(ctx context.Context, correlationID string, status ledgerdomain.EntryStatus, req ledgerdomain.ApplyCallbackRequest) (*ledgerdomain.Entry, error) {
	now := time.Now().UTC()
	resultCode := req.ResultCode
	entry := &ledgerdomain.Entry{
		ID:            s.genID.Generate(),
		TenantID:      req.TenantID,
		CorrelationID: correlationID,
		AmountMinor:   req.AmountMinor,
		Currency:      "KES",
		Phone:         req.Phone,
		Status:        status,
		ResultCode:    &resultCode,
		ResultDesc:    req.ResultDesc,
		Receipt:       req.Receipt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(req.RawPayload) > 0 {
		entry.RawPayload = datatypes.JSON(req.RawPayload)
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) QueryTerminalStatus(ctx context.Context, correlationID string) (ledgerdomain.TerminalStatus, error) {
	entry, err := s.repo.FindByCorrelationID(ctx, s.db, correlationID)
	if err != nil {
		return ledgerdomain.TerminalStatus{}, err
	}
	if entry == nil {
		return ledgerdomain.TerminalStatus{}, ledgerdomain.ErrEntryNotFound
	}
	return ledgerdomain.TerminalStatus{
		Terminal: entry.Terminal(),
		Success:  entry.Status == ledgerdomain.EntryStatusSuccess,
		Receipt:  entry.Receipt,
	}, nil
}

func (s *Service) MarkAutoReconciled(ctx context.Context, correlationID string) error {
	return s.repo.MarkAutoReconciled(ctx, s.db, correlationID)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID snowflake.ID, limit int) ([]ledgerdomain.Entry, error) {
	return s.repo.ListByTenant(ctx, s.db, tenantID, limit)
}
