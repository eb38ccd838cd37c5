package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type InitiateRequest struct {
	TenantID  snowflake.ID
	PlanCode  string
	Phone     string
	AutoRenew bool
}

type InitiateResponse struct {
	SubscriptionID  snowflake.ID
	CorrelationID   string
	CustomerMessage string
}

type RecordReceiptRequest struct {
	TenantID       snowflake.ID
	SubscriptionID snowflake.ID
	Receipt        string
}

type Service interface {
	// Initiate creates a pending subscription, records the ledger row and fires
	// the STK push. Gateway failures surface as ErrInitiationFailed; the cause
	// is logged, never returned to the paying customer.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	// InitiateRenewal opens the next paid period for an auto-renewing
	// subscription: a fresh pending record on the same plan, charged to the
	// phone on file.
	InitiateRenewal(ctx context.Context, subscriptionID snowflake.ID) (*InitiateResponse, error)
	// RecordClientReceipt moves pending to pending_verification on the
	// customer's say-so. The record stays unverified until the callback or the
	// sweeper confirms with the gateway.
	RecordClientReceipt(ctx context.Context, req RecordReceiptRequest) (*Subscription, error)
	CancelAdministratively(ctx context.Context, tenantID, id snowflake.ID) (*Subscription, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidRequest       = errors.New("invalid_subscription_request")
	// ErrInitiationFailed is the generic customer-facing initiation error; the
	// underlying gateway or storage cause goes to the log only.
	ErrInitiationFailed  = errors.New("subscription_initiation_failed")
	ErrInvalidTransition = errors.New("invalid_subscription_transition")
)
