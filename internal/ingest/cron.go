package ingest

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/robfig/cron/v3"
)

// Per-step timeouts and the cooldown between steps.
const (
	monitorTimeout = 90 * time.Second
	ingestTimeout  = 120 * time.Second
	stepCooldown   = 3 * time.Second
)

// CronRunner sequences the batched pipeline: change monitoring first,
// then the connector run. A step failure is logged and does not block the
// next step.
type CronRunner struct {
	monitor  *Monitor
	runner   *Runner
	log      RunLog
	tenantID string
	logger   observability.Logger
	cooldown time.Duration

	// running keeps a slow tick from overlapping the next one.
	running atomic.Bool
}

// NewCronRunner wires the composite cron entry point for one tenant.
func NewCronRunner(monitor *Monitor, runner *Runner, log RunLog, tenantID string, logger observability.Logger) *CronRunner {
	return &CronRunner{
		monitor:  monitor,
		runner:   runner,
		log:      log,
		tenantID: tenantID,
		logger:   logger.WithPrefix("cron"),
		cooldown: stepCooldown,
	}
}

// CronSummary reports what the composite run did.
type CronSummary struct {
	Monitor    *models.MonitorResult    `json:"monitor,omitempty"`
	Connectors []models.ConnectorResult `json:"connectors,omitempty"`
	Errors     []string                 `json:"errors,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
}

// Run executes monitor then ingest with per-step timeouts. Only one run
// is active at a time; an overlapping call returns a summary noting the
// skip.
func (c *CronRunner) Run(ctx context.Context, triggeredBy string) *CronSummary {
	if !c.running.CompareAndSwap(false, true) {
		return &CronSummary{Errors: []string{"a run is already in progress"}}
	}
	defer c.running.Store(false)

	started := time.Now()
	summary := &CronSummary{}

	monitorCtx, cancelMonitor := context.WithTimeout(ctx, monitorTimeout)
	monitorResult, err := c.monitor.RunChangeDetection(monitorCtx, c.tenantID, triggeredBy)
	cancelMonitor()
	if err != nil {
		summary.Errors = append(summary.Errors, "monitor: "+err.Error())
		c.logger.Warn("Monitor step failed", map[string]interface{}{"error": err.Error()})
	} else {
		summary.Monitor = monitorResult
	}

	c.pause(ctx)

	ingestCtx, cancelIngest := context.WithTimeout(ctx, ingestTimeout)
	results, err := c.runner.RunConnectors(ingestCtx, RunOptions{TenantID: c.tenantID})
	cancelIngest()
	if err != nil {
		summary.Errors = append(summary.Errors, "ingest: "+err.Error())
		c.logger.Warn("Ingest step failed", map[string]interface{}{"error": err.Error()})
	}
	summary.Connectors = results

	summary.DurationMs = time.Since(started).Milliseconds()
	c.appendLog(ctx, triggeredBy, summary)
	return summary
}

func (c *CronRunner) pause(ctx context.Context) {
	if c.cooldown <= 0 {
		return
	}
	select {
	case <-time.After(c.cooldown):
	case <-ctx.Done():
	}
}

func (c *CronRunner) appendLog(ctx context.Context, triggeredBy string, summary *CronSummary) {
	detail, _ := json.Marshal(summary)
	err := c.log.Append(ctx, &models.IngestionLogEntry{
		TenantID:    c.tenantID,
		RunType:     "cron",
		TriggeredBy: triggeredBy,
		Detail:      detail,
	})
	if err != nil {
		c.logger.Warn("Failed to append ingestion log", map[string]interface{}{"error": err.Error()})
	}
}

// Schedule registers the composite run on an in-process cron. expr uses
// the standard five-field cron format.
func (c *CronRunner) Schedule(runner *cron.Cron, expr string) (cron.EntryID, error) {
	return runner.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout+ingestTimeout+time.Minute)
		defer cancel()
		c.Run(ctx, "schedule")
	})
}
