package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicmesh/civicmesh/internal/middleware"
)

type searchRequest struct {
	Query    string `json:"query" binding:"required"`
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = middleware.TenantID(c)
	}

	response, err := s.search.Search(c.Request.Context(), tenantID, req.Query, req.Limit)
	if err != nil {
		s.logger.Error("Search request failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}
