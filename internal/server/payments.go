package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const paymentListLimit = 100

func (s *Server) ListPayments(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	entries, err := s.ledgerSvc.ListByTenant(c.Request.Context(), tenantID, paymentListLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		item := gin.H{
			"id":              entry.ID.String(),
			"correlation_id":  entry.CorrelationID,
			"merchant_ref":    entry.MerchantRef,
			"amount_minor":    entry.AmountMinor,
			"currency":        entry.Currency,
			"status":          entry.Status,
			"auto_reconciled": entry.AutoReconciled,
			"created_at":      entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.Receipt != nil {
			item["receipt"] = *entry.Receipt
		}
		if entry.ResultCode != nil {
			item["result_code"] = *entry.ResultCode
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func (s *Server) GetPaymentStatus(c *gin.Context) {
	if _, ok := tenantFromRequest(c); !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	correlationID := strings.TrimSpace(c.Param("correlation_id"))
	if correlationID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status, err := s.ledgerSvc.QueryTerminalStatus(c.Request.Context(), correlationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"correlation_id": correlationID,
		"terminal":       status.Terminal,
		"success":        status.Success,
	}
	if status.Receipt != nil {
		resp["receipt"] = *status.Receipt
	}
	c.JSON(http.StatusOK, resp)
}
