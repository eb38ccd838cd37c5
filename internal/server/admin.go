package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TriggerReconcile runs one scheduler pass on demand. The same conditional
// writes that protect concurrent workers make this safe to run while the
// background scheduler ticks.
func (s *Server) TriggerReconcile(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrInternal)
		return
	}

	if err := s.scheduler.RunOnce(c.Request.Context()); err != nil {
		s.log.Warn("manual reconcile finished with errors", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "completed_with_errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}
