// Package domain defines the activation service: the only writer allowed to
// move a subscription out of its awaiting states and touch the tenant plan
// pointer.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Source records which path triggered the finalize.
type Source string

const (
	SourceCallback Source = "callback"
	SourceSweeper  Source = "sweeper"
	SourceManual   Source = "manual"
)

type Outcome string

const (
	// OutcomeActivated means this call performed the activation.
	OutcomeActivated Outcome = "activated"
	// OutcomeAlreadyActive means an earlier finalize won; nothing changed.
	OutcomeAlreadyActive Outcome = "already_active"
	// OutcomeNotActivated means the payment failed and the awaiting record was
	// cancelled. The plan pointer is untouched.
	OutcomeNotActivated Outcome = "not_activated"
)

type FinalizeRequest struct {
	CorrelationID string
	ResultCode    int
	ResultDesc    string
	Receipt       *string
	Source        Source
}

type Result struct {
	Outcome        Outcome
	SubscriptionID snowflake.ID
	TenantID       snowflake.ID
	// Strategy names the resolver that attributed the payment.
	Strategy string
}

type Service interface {
	// FinalizeFromPayment resolves the settled ledger entry onto a
	// subscription and applies the terminal business transition.
	FinalizeFromPayment(ctx context.Context, req FinalizeRequest) (*Result, error)
}

var (
	ErrUnresolvedSubscription = errors.New("unresolved_subscription")
	// ErrActivationConflict reports a lost conditional transition; callers
	// retry once before giving up to the sweeper.
	ErrActivationConflict = errors.New("activation_conflict")
)
