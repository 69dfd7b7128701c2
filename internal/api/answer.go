package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicmesh/civicmesh/internal/answer"
	"github.com/civicmesh/civicmesh/internal/middleware"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/service"
)

type answerRequest struct {
	Messages []models.Message `json:"messages" binding:"required,min=1,dive"`
	TenantID string           `json:"tenant_id"`
}

// handleAnswer streams the composed answer as server-sent events. Each
// event is one "data: " line carrying {type, data}. The SSE headers are
// written on the first event, so failures before any output still get a
// proper status code.
func (s *Server) handleAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = middleware.TenantID(c)
	}

	flusher, _ := c.Writer.(http.Flusher)
	streaming := false

	emit := func(ev answer.Event) error {
		if !streaming {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			streaming = true
		}
		payload, err := json.Marshal(gin.H{"type": ev.Type, "data": ev.Data})
		if err != nil {
			return err
		}
		if _, err := c.Writer.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := s.answers.Answer(c.Request.Context(), tenantID, req.Messages, emit)
	if err == nil {
		return
	}
	if errors.Is(err, service.ErrNoQuestion) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Error("Answer request failed", map[string]interface{}{
		"tenant_id": tenantID,
		"error":     err.Error(),
	})
	if streaming {
		_ = emit(answer.Event{Type: "error", Data: gin.H{"error": "answer generation failed", "details": err.Error()}})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "answer generation failed", "details": err.Error()})
}
