package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/civicmesh/civicmesh/internal/connector"
	"github.com/civicmesh/civicmesh/internal/metrics"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/google/uuid"
)

// defaultStalenessHorizon flags documents not verified in this long.
const defaultStalenessHorizon = 90 * 24 * time.Hour

// DocumentStore is the subset of the document repository the monitor needs.
type DocumentStore interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.Document, error)
	UpdateMonitorState(ctx context.Context, id uuid.UUID, metadata models.DocumentMetadata, verifiedAt time.Time) error
	MarkStale(ctx context.Context, tenantID string, olderThan time.Time) ([]uuid.UUID, error)
}

// RunLog appends run summaries to the ingestion log.
type RunLog interface {
	Append(ctx context.Context, entry *models.IngestionLogEntry) error
}

// MonitorConfig tunes the change monitor.
type MonitorConfig struct {
	// DiscoveryFeedURL is an optional RSS feed checked for URLs not yet
	// in the tracked set.
	DiscoveryFeedURL string
	StalenessHorizon time.Duration
}

// Monitor checks tracked documents for changes via conditional HTTP
// headers and flags long-unverified documents as stale.
type Monitor struct {
	documents DocumentStore
	log       RunLog
	client    *http.Client
	config    MonitorConfig
	metrics   *metrics.Metrics
	logger    observability.Logger
	now       func() time.Time
}

// WithMetrics installs monitor run instrumentation.
func (m *Monitor) WithMetrics(met *metrics.Metrics) *Monitor {
	m.metrics = met
	return m
}

// NewMonitor wires the change monitor.
func NewMonitor(documents DocumentStore, log RunLog, client *http.Client, config MonitorConfig, logger observability.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: connector.DefaultFetchTimeout}
	}
	if config.StalenessHorizon <= 0 {
		config.StalenessHorizon = defaultStalenessHorizon
	}
	return &Monitor{
		documents: documents,
		log:       log,
		client:    client,
		config:    config,
		logger:    logger.WithPrefix("monitor"),
		now:       time.Now,
	}
}

// RunChangeDetection checks every tracked document for the tenant.
// Per-document failures count as errors and do not abort the batch.
func (m *Monitor) RunChangeDetection(ctx context.Context, tenantID, triggeredBy string) (*models.MonitorResult, error) {
	started := m.now()
	result := &models.MonitorResult{Changed: []string{}, New: []string{}}

	docs, err := m.documents.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	tracked := make(map[string]bool, len(docs))
	for i := range docs {
		doc := &docs[i]
		tracked[doc.URL] = true
		result.Checked++

		changed, checkErr := m.checkDocument(ctx, doc)
		if checkErr != nil {
			result.Errors++
			m.logger.Warn("Document check failed", map[string]interface{}{
				"url":   doc.URL,
				"error": checkErr.Error(),
			})
			continue
		}
		if changed {
			result.Changed = append(result.Changed, doc.URL)
		}
	}

	if m.config.DiscoveryFeedURL != "" {
		fresh, discErr := m.discover(ctx, tracked)
		if discErr != nil {
			result.Errors++
			m.logger.Warn("Discovery feed check failed", map[string]interface{}{
				"feed":  m.config.DiscoveryFeedURL,
				"error": discErr.Error(),
			})
		} else {
			result.New = fresh
		}
	}

	if _, err := m.documents.MarkStale(ctx, tenantID, m.now().Add(-m.config.StalenessHorizon)); err != nil {
		result.Errors++
		m.logger.Warn("Stale flagging failed", map[string]interface{}{"error": err.Error()})
	}

	result.DurationMs = m.now().Sub(started).Milliseconds()
	if m.metrics != nil {
		m.metrics.RecordMonitorRun(result.Checked, len(result.Changed))
	}
	m.appendLog(ctx, tenantID, triggeredBy, result)
	return result, nil
}

// checkDocument issues a HEAD request and compares validator headers
// against the stored metadata. Any difference counts as a change; a
// document with no stored headers and no observed headers also counts,
// since nothing proves it unchanged.
func (m *Monitor) checkDocument(ctx context.Context, doc *models.Document) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, doc.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "civicmesh/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("status %d for %s", resp.StatusCode, doc.URL)
	}

	var prior models.DocumentMetadata
	if len(doc.Metadata) > 0 {
		_ = json.Unmarshal(doc.Metadata, &prior)
	}

	observed := models.DocumentMetadata{
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: contentLengthHeader(resp),
		LastChecked:   m.now().UTC().Format(time.RFC3339),
	}

	changed := observed.ETag != prior.ETag ||
		observed.LastModified != prior.LastModified ||
		observed.ContentLength != prior.ContentLength
	noObserved := observed.ETag == "" && observed.LastModified == "" && observed.ContentLength == ""
	noPrior := prior.ETag == "" && prior.LastModified == "" && prior.ContentLength == ""
	if noObserved && noPrior {
		// Nothing proves the document unchanged.
		changed = true
	}

	if err := m.documents.UpdateMonitorState(ctx, doc.ID, observed, m.now().UTC()); err != nil {
		return changed, err
	}
	return changed, nil
}

// discover fetches the configured RSS feed and reports links absent from
// the tracked set.
func (m *Monitor) discover(ctx context.Context, tracked map[string]bool) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.config.DiscoveryFeedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "civicmesh/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from discovery feed", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	fresh := []string{}
	for _, item := range connector.ParseFeed(string(body)) {
		if item.Link == "" || tracked[item.Link] {
			continue
		}
		fresh = append(fresh, item.Link)
	}
	return fresh, nil
}

func (m *Monitor) appendLog(ctx context.Context, tenantID, triggeredBy string, result *models.MonitorResult) {
	detail, _ := json.Marshal(result)
	err := m.log.Append(ctx, &models.IngestionLogEntry{
		TenantID:    tenantID,
		RunType:     "monitor",
		TriggeredBy: triggeredBy,
		Detail:      detail,
	})
	if err != nil {
		m.logger.Warn("Failed to append ingestion log", map[string]interface{}{"error": err.Error()})
	}
}

func contentLengthHeader(resp *http.Response) string {
	if resp.ContentLength >= 0 {
		return strconv.FormatInt(resp.ContentLength, 10)
	}
	return resp.Header.Get("Content-Length")
}
