package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

const tenantHeader = "X-Tenant-ID"

func tenantFromRequest(c *gin.Context) (snowflake.ID, bool) {
	raw := c.GetHeader(tenantHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return snowflake.ID(id), true
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return snowflake.ID(id), true
}

type initiateRequest struct {
	PlanCode  string `json:"plan_code" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
	AutoRenew bool   `json:"auto_renew"`
}

type initiateResponse struct {
	SubscriptionID  string `json:"subscription_id"`
	CorrelationID   string `json:"correlation_id"`
	CustomerMessage string `json:"customer_message,omitempty"`
}

func (s *Server) InitiateSubscription(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.Initiate(c.Request.Context(), subscriptiondomain.InitiateRequest{
		TenantID:  tenantID,
		PlanCode:  req.PlanCode,
		Phone:     req.Phone,
		AutoRenew: req.AutoRenew,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, initiateResponse{
		SubscriptionID:  resp.SubscriptionID.String(),
		CorrelationID:   resp.CorrelationID,
		CustomerMessage: resp.CustomerMessage,
	})
}

type receiptRequest struct {
	Receipt string `json:"receipt"`
}

func (s *Server) RecordReceipt(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	subID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.RecordClientReceipt(c.Request.Context(), subscriptiondomain.RecordReceiptRequest{
		TenantID:       tenantID,
		SubscriptionID: subID,
		Receipt:        req.Receipt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscriptionResponse(sub))
}

func (s *Server) CancelSubscription(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	subID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.CancelAdministratively(c.Request.Context(), tenantID, subID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscriptionResponse(sub))
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	subID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID, subID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscriptionResponse(sub))
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subs, err := s.subscriptionSvc.List(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]gin.H, 0, len(subs))
	for i := range subs {
		out = append(out, subscriptionResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

func subscriptionResponse(sub *subscriptiondomain.Subscription) gin.H {
	resp := gin.H{
		"id":               sub.ID.String(),
		"tenant_id":        sub.TenantID.String(),
		"plan_id":          sub.PlanID.String(),
		"amount_minor":     sub.AmountMinor,
		"currency":         sub.Currency,
		"status":           sub.Status,
		"is_active":        sub.IsActive,
		"is_verified":      sub.IsVerified,
		"auto_renew":       sub.AutoRenew,
		"billing_interval": sub.BillingInterval,
		"created_at":       sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.CorrelationID != nil {
		resp["correlation_id"] = *sub.CorrelationID
	}
	if sub.Receipt != nil {
		resp["receipt"] = *sub.Receipt
	}
	if sub.StartsAt != nil {
		resp["starts_at"] = sub.StartsAt.Format(time.RFC3339)
	}
	if sub.EndsAt != nil {
		resp["ends_at"] = sub.EndsAt.Format(time.RFC3339)
	}
	if sub.ActivatedAt != nil {
		resp["activated_at"] = sub.ActivatedAt.Format(time.RFC3339)
	}
	return resp
}
