package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/civicmesh/civicmesh/internal/middleware"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/repository"
)

type contentResponse struct {
	Items   []models.ContentItem `json:"items"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"hasMore"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
}

func (s *Server) handleContent(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	category := c.Query("category")
	sourceID := c.Query("source")
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	if category != "" && !models.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category " + category})
		return
	}

	var response contentResponse
	if s.responses != nil && s.responses.GetListing(c.Request.Context(), tenantID, category, sourceID, limit, offset, &response) {
		c.JSON(http.StatusOK, response)
		return
	}

	items, total, err := s.content.List(c.Request.Context(), tenantID, repository.ListOptions{
		Category: category,
		SourceID: sourceID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("Content listing failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "content listing failed", "details": err.Error()})
		return
	}
	if items == nil {
		items = []models.ContentItem{}
	}

	response = contentResponse{
		Items:   items,
		Total:   total,
		HasMore: offset+len(items) < total,
		Offset:  offset,
		Limit:   limit,
	}
	if s.responses != nil {
		s.responses.PutListing(c.Request.Context(), tenantID, category, sourceID, limit, offset, response)
	}
	c.JSON(http.StatusOK, response)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
