package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicmesh/civicmesh/internal/middleware"
)

// handleCron runs the composite monitor-then-ingest pipeline and returns
// a structured summary of each step.
func (s *Server) handleCron(c *gin.Context) {
	if s.cron == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cron pipeline not configured"})
		return
	}

	summary := s.cron.Run(c.Request.Context(), "http")
	s.logger.Info("Cron run finished", map[string]interface{}{
		"tenant_id":   middleware.TenantID(c),
		"duration_ms": summary.DurationMs,
		"errors":      len(summary.Errors),
	})
	c.JSON(http.StatusOK, summary)
}
