package ingest

import (
	"context"
	"errors"

	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Activation activationdomain.Service
}

// Processor is the webhook-side entry point. Every path through Process ends
// in an acknowledgment: the gateway retries nothing, so errors are absorbed
// here and left for the sweeper.
type Processor struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	activation activationdomain.Service
}

func NewProcessor(p Params) *Processor {
	return &Processor{
		log:        p.Log.Named("ingest.processor"),
		ledger:     p.Ledger,
		activation: p.Activation,
	}
}

// Process applies one raw callback body. It never returns an error to the
// transport layer.
func (p *Processor) Process(ctx context.Context, raw []byte) {
	parsed, err := ParseCallback(raw)
	if err != nil {
		metrics.Payments().IncMalformedCallback()
		if parsed != nil && parsed.CheckoutRequestID != "" {
			p.recordMalformed(ctx, parsed)
			return
		}
		p.log.Warn("discarding malformed callback", zap.ByteString("body", truncate(raw, 512)))
		return
	}

	log := p.log.With(
		zap.String("correlation_id", parsed.CheckoutRequestID),
		zap.Int("result_code", parsed.ResultCode),
	)

	entry, err := p.ledger.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: parsed.CheckoutRequestID,
		ResultCode:    parsed.ResultCode,
		ResultDesc:    parsed.ResultDesc,
		Receipt:       parsed.Receipt,
		RawPayload:    parsed.Raw,
		AmountMinor:   parsed.AmountMinor,
		Phone:         parsed.Phone,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAlreadyFinalized) {
			metrics.Payments().IncDuplicateCallback()
			log.Info("callback replay ignored")
			return
		}
		metrics.Payments().IncCallback("error")
		log.Error("failed to apply callback to ledger", zap.Error(err))
		return
	}

	if entry.Status == ledgerdomain.EntryStatusSuccess {
		metrics.Payments().IncCallback("success")
	} else {
		metrics.Payments().IncCallback("failed")
	}

	p.finalize(ctx, parsed, log)
}

// malformedResultCode marks ledger entries synthesized from unusable payloads.
// It is outside the gateway's code space.
const malformedResultCode = -1

// recordMalformed pins a failed ledger entry to a callback whose envelope was
// unusable but still carried a checkout request id, so the pending row does
// not sit in limbo behind a broken payload.
func (p *Processor) recordMalformed(ctx context.Context, parsed *ParsedCallback) {
	_, err := p.ledger.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: parsed.CheckoutRequestID,
		ResultCode:    malformedResultCode,
		ResultDesc:    "callback payload malformed",
		RawPayload:    parsed.Raw,
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrAlreadyFinalized) {
		p.log.Error("failed to record malformed callback",
			zap.String("correlation_id", parsed.CheckoutRequestID),
			zap.Error(err),
		)
		return
	}
	p.log.Warn("recorded malformed callback as failed",
		zap.String("correlation_id", parsed.CheckoutRequestID),
	)
}

// finalize triggers activation. Conflicts get one retry; everything else is
// logged and left to the reconciliation sweep.
func (p *Processor) finalize(ctx context.Context, parsed *ParsedCallback, log *zap.Logger) {
	req := activationdomain.FinalizeRequest{
		CorrelationID: parsed.CheckoutRequestID,
		ResultCode:    parsed.ResultCode,
		ResultDesc:    parsed.ResultDesc,
		Receipt:       parsed.Receipt,
		Source:        activationdomain.SourceCallback,
	}

	_, err := p.activation.FinalizeFromPayment(ctx, req)
	if errors.Is(err, activationdomain.ErrActivationConflict) {
		_, err = p.activation.FinalizeFromPayment(ctx, req)
	}
	switch {
	case err == nil:
	case errors.Is(err, activationdomain.ErrUnresolvedSubscription):
		// Already counted and logged by the resolver.
	default:
		log.Error("activation failed, leaving to sweeper", zap.Error(err))
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
