package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/civicmesh/civicmesh/internal/ingest"
	"github.com/civicmesh/civicmesh/internal/middleware"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/repository"
)

type sourceRequest struct {
	ConnectorType string          `json:"connector_type" binding:"required,oneof=rss ical scrape api pdf"`
	Category      string          `json:"category" binding:"required"`
	Schedule      string          `json:"schedule" binding:"required,oneof=5min 15min hourly daily weekly"`
	Config        json.RawMessage `json:"config"`
	Enabled       *bool           `json:"enabled"`
	ShouldEmbed   *bool           `json:"should_embed"`
}

func (s *Server) listSources(c *gin.Context) {
	tenantID := middleware.TenantID(c)

	sources, err := s.sources.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources", "details": err.Error()})
		return
	}
	if sources == nil {
		sources = []models.SourceConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "count": len(sources)})
}

func (s *Server) createSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !models.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category " + req.Category})
		return
	}

	source := models.SourceConfig{
		TenantID:      middleware.TenantID(c),
		ConnectorType: req.ConnectorType,
		Category:      req.Category,
		Schedule:      req.Schedule,
		Config:        req.Config,
		Enabled:       req.Enabled == nil || *req.Enabled,
		ShouldEmbed:   req.ShouldEmbed != nil && *req.ShouldEmbed,
	}
	if err := s.sources.Create(c.Request.Context(), &source); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create source", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, source)
}

func (s *Server) updateSource(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source id"})
		return
	}

	source, err := s.sources.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load source", "details": err.Error()})
		return
	}

	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !models.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category " + req.Category})
		return
	}

	source.ConnectorType = req.ConnectorType
	source.Category = req.Category
	source.Schedule = req.Schedule
	source.Config = req.Config
	if req.Enabled != nil {
		source.Enabled = *req.Enabled
	}
	if req.ShouldEmbed != nil {
		source.ShouldEmbed = *req.ShouldEmbed
	}

	if err := s.sources.Update(c.Request.Context(), source); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update source", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, source)
}

func (s *Server) deleteSource(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source id"})
		return
	}

	if err := s.sources.Delete(c.Request.Context(), tenantID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete source", "details": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// runSource triggers one connector immediately, bypassing its schedule.
func (s *Server) runSource(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion not configured"})
		return
	}
	tenantID := middleware.TenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source id"})
		return
	}
	if _, err := s.sources.Get(c.Request.Context(), tenantID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load source", "details": err.Error()})
		return
	}

	results, err := s.runner.RunConnectors(c.Request.Context(), ingest.RunOptions{
		TenantID: tenantID,
		SourceID: id.String(),
		Force:    true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connector run failed", "details": err.Error()})
		return
	}
	if len(results) == 1 {
		c.JSON(http.StatusOK, results[0])
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) listIngestRuns(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	limit := intQuery(c, "limit", 20)

	entries, err := s.ingestLog.Recent(c.Request.Context(), tenantID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs", "details": err.Error()})
		return
	}
	if entries == nil {
		entries = []models.IngestionLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": entries, "count": len(entries)})
}
