// Package mpesa implements the Daraja STK push gateway client. The gateway is an
// opaque external API: initiation answers synchronously with a checkout request
// id, and the outcome arrives later on the callback URL or via a status query.
package mpesa

import (
	"context"
	"errors"
)

// Result codes the gateway reports on terminal transactions.
const (
	ResultCodeSuccess           = 0
	ResultCodeInsufficientFunds = 1
	ResultCodeUserCancelled     = 1032
	ResultCodeTimeout           = 1037
	ResultCodeInvalidInitiator  = 2001
)

// Credentials identify the paybill a charge runs against. They may be
// platform-wide or per-tenant; decryption and storage are the caller's concern.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
}

type StkPushRequest struct {
	Phone            string
	AmountMinor      int64
	AccountReference string
	Description      string
	CallbackURL      string
}

type StkPushResponse struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseDescription string
	CustomerMessage     string
}

// StatusResult is the answer to an out-of-band status query. Pending means the
// gateway has no terminal answer yet; ResultCode is meaningful only when
// Pending is false. The query API does not return a receipt.
type StatusResult struct {
	Pending    bool
	ResultCode int
	ResultDesc string
}

type Gateway interface {
	InitiateStkPush(ctx context.Context, creds Credentials, req StkPushRequest) (*StkPushResponse, error)
	QueryStatus(ctx context.Context, creds Credentials, checkoutRequestID string) (*StatusResult, error)
}

var (
	// ErrGatewayTimeout covers network timeouts and cancelled requests; callers
	// treat the transaction as still pending.
	ErrGatewayTimeout = errors.New("gateway_timeout")
	ErrGatewayError   = errors.New("gateway_error")
)
