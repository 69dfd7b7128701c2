// Package api implements the HTTP surface: the answering and search
// endpoints, content listing, the token-gated cron trigger, and the
// admin source management API.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicmesh/civicmesh/internal/auth"
	"github.com/civicmesh/civicmesh/internal/cache"
	"github.com/civicmesh/civicmesh/internal/ingest"
	"github.com/civicmesh/civicmesh/internal/middleware"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/repository"
	"github.com/civicmesh/civicmesh/internal/service"
)

// Config carries the handler-level settings the server needs.
type Config struct {
	DefaultTenantID string
	CronSecret      string
	AdminSecret     string
}

// Server wires the gin engine over the service layer.
type Server struct {
	config    Config
	answers   *service.AnswerService
	search    *service.SearchService
	content   *repository.ContentRepository
	sources   *repository.SourceRepository
	ingestLog *repository.IngestionLogRepository
	cron      *ingest.CronRunner
	runner    *ingest.Runner
	responses *cache.ResponseCache
	validator *auth.Validator
	logger    observability.Logger
}

// NewServer assembles the HTTP server. cron, runner, responses, and
// validator may be nil; the matching routes then report unavailability.
func NewServer(config Config, answers *service.AnswerService, search *service.SearchService, content *repository.ContentRepository, sources *repository.SourceRepository, ingestLog *repository.IngestionLogRepository, cron *ingest.CronRunner, runner *ingest.Runner, responses *cache.ResponseCache, validator *auth.Validator, logger observability.Logger) *Server {
	return &Server{
		config:    config,
		answers:   answers,
		search:    search,
		content:   content,
		sources:   sources,
		ingestLog: ingestLog,
		cron:      cron,
		runner:    runner,
		responses: responses,
		validator: validator,
		logger:    logger.WithPrefix("api"),
	}
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tenant := middleware.ResolveTenant(s.config.DefaultTenantID)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/answer", tenant, s.handleAnswer)
		v1.POST("/search", tenant, s.handleSearch)
		v1.GET("/content", tenant, s.handleContent)

		cronGate := middleware.RequireCronSecret(s.config.CronSecret)
		v1.GET("/cron", cronGate, tenant, s.handleCron)
		v1.POST("/cron", cronGate, tenant, s.handleCron)

		admin := v1.Group("/sources", middleware.RequireAdmin(s.config.AdminSecret, s.validator), tenant)
		{
			admin.GET("", s.listSources)
			admin.POST("", s.createSource)
			admin.PUT("/:id", s.updateSource)
			admin.DELETE("/:id", s.deleteSource)
			admin.POST("/:id/run", s.runSource)
		}

		v1.GET("/ingest/runs", middleware.RequireAdmin(s.config.AdminSecret, s.validator), tenant, s.listIngestRuns)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
