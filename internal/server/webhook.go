package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps the callback payload read; Daraja envelopes are small.
const maxWebhookBody = 64 * 1024

// HandleMpesaWebhook acknowledges every delivery with 200. The gateway does
// not retry, so a non-200 would only lose the payload; whatever cannot be
// processed now is the sweeper's problem.
func (s *Server) HandleMpesaWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
		return
	}

	s.processor.Process(c.Request.Context(), body)

	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
