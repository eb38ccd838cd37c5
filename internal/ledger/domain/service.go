package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RecordInitiationRequest struct {
	CorrelationID string
	TenantID      snowflake.ID
	MerchantRef   string
	AmountMinor   int64
	Currency      string
	Phone         string
}

type ApplyCallbackRequest struct {
	CorrelationID string
	ResultCode    int
	ResultDesc    string
	Receipt       *string
	RawPayload    []byte
	// TenantID is used only when the callback precedes the local pending row
	// and an orphan entry must be created. Zero when unknown.
	TenantID    snowflake.ID
	AmountMinor int64
	Phone       string
}

type TerminalStatus struct {
	Terminal bool
	Success  bool
	Receipt  *string
}

type Service interface {
	// RecordInitiation creates the pending row for a new STK push. A collision
	// with an already-terminal row returns ErrDuplicateCorrelationID; a
	// collision with a still-pending row refreshes it (retried initiation).
	RecordInitiation(ctx context.Context, req RecordInitiationRequest) (*Entry, error)
	// ApplyCallback performs the idempotent terminal write. When the entry was
	// already terminal it returns the stored entry together with
	// ErrAlreadyFinalized so callers skip re-triggering activation.
	ApplyCallback(ctx context.Context, req ApplyCallbackRequest) (*Entry, error)
	QueryTerminalStatus(ctx context.Context, correlationID string) (TerminalStatus, error)
	MarkAutoReconciled(ctx context.Context, correlationID string) error
	ListByTenant(ctx context.Context, tenantID snowflake.ID, limit int) ([]Entry, error)
}

var (
	ErrDuplicateCorrelationID = errors.New("duplicate_correlation_id")
	// ErrAlreadyFinalized is a signal, not a failure: the terminal write for
	// this correlation id happened earlier and nothing was changed.
	ErrAlreadyFinalized = errors.New("already_finalized")
	ErrEntryNotFound    = errors.New("ledger_entry_not_found")
	ErrInvalidEntry     = errors.New("invalid_ledger_entry")
)
