// Package ingest drives the content pipeline: the connector runner, the
// document change monitor, and the composite cron entry point that
// sequences them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicmesh/civicmesh/internal/connector"
	"github.com/civicmesh/civicmesh/internal/metrics"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/repository"
	"github.com/civicmesh/civicmesh/internal/vectorindex"
	"github.com/google/uuid"
)

// embedTextLimit caps the text sent to the embedding provider per item.
const embedTextLimit = 8000

// SourceStore is the subset of the source repository the runner needs.
type SourceStore interface {
	ListEnabled(ctx context.Context, tenantID, schedule string) ([]models.SourceConfig, error)
	RecordRun(ctx context.Context, id uuid.UUID, fetchedAt time.Time, runErr error) error
}

// ContentStore persists normalized items.
type ContentStore interface {
	Insert(ctx context.Context, item *models.ContentItem) error
}

// Embedder produces a vector for one text.
type Embedder interface {
	Embed(ctx context.Context, tenantID, text string) ([]float32, error)
}

// VectorUpserter pushes embedded items into the vector index.
type VectorUpserter interface {
	Upsert(ctx context.Context, namespace string, vectors []vectorindex.Vector) error
}

// HashFilter is an optional shortcut that skips store round-trips for
// content hashes already ingested. The store's unique constraint remains
// the source of truth.
type HashFilter interface {
	Seen(ctx context.Context, tenantID, sourceID, contentHash string) bool
	Mark(ctx context.Context, tenantID, sourceID, contentHash string)
}

// RunOptions selects which sources a run covers. Force bypasses the
// schedule gate; a non-empty SourceID restricts the run to that source.
type RunOptions struct {
	TenantID string
	Schedule string
	SourceID string
	Force    bool
}

// Runner executes due connectors sequentially and upserts their output.
type Runner struct {
	sources   SourceStore
	content   ContentStore
	registry  *connector.Registry
	deps      connector.Deps
	embedder  Embedder
	index     VectorUpserter
	namespace string
	seen      HashFilter
	metrics   *metrics.Metrics
	logger    observability.Logger
	now       func() time.Time
}

// NewRunner wires the ingestion runner. namespace is the vector index
// namespace for connector content.
func NewRunner(sources SourceStore, content ContentStore, registry *connector.Registry, deps connector.Deps, embedder Embedder, index VectorUpserter, namespace string, logger observability.Logger) *Runner {
	return &Runner{
		sources:   sources,
		content:   content,
		registry:  registry,
		deps:      deps,
		embedder:  embedder,
		index:     index,
		namespace: namespace,
		logger:    logger.WithPrefix("ingest"),
		now:       time.Now,
	}
}

// WithHashFilter installs the duplicate shortcut.
func (r *Runner) WithHashFilter(seen HashFilter) *Runner {
	r.seen = seen
	return r
}

// WithMetrics installs connector run instrumentation.
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// RunConnectors loads the enabled sources matching opts, skips the ones
// not yet due, and runs the rest one at a time. Connector failures are
// recorded per source and never abort the batch.
func (r *Runner) RunConnectors(ctx context.Context, opts RunOptions) ([]models.ConnectorResult, error) {
	sources, err := r.sources.ListEnabled(ctx, opts.TenantID, opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	results := make([]models.ConnectorResult, 0, len(sources))
	for i := range sources {
		source := sources[i]
		if opts.SourceID != "" && source.ID.String() != opts.SourceID {
			continue
		}
		if !opts.Force && !source.Due(r.now()) {
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, r.runOne(ctx, source))
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, source models.SourceConfig) models.ConnectorResult {
	started := r.now()
	result := models.ConnectorResult{SourceID: source.ID.String()}

	runErr := r.execute(ctx, source, &result)
	if runErr != nil {
		result.Errors = append(result.Errors, runErr.Error())
		r.logger.Warn("Connector run failed", map[string]interface{}{
			"source_id": source.ID.String(),
			"type":      source.ConnectorType,
			"error":     runErr.Error(),
		})
	}

	if err := r.sources.RecordRun(ctx, source.ID, r.now(), runErr); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	result.DurationMs = r.now().Sub(started).Milliseconds()
	if r.metrics != nil {
		r.metrics.RecordConnectorRun(source.ConnectorType, result.ItemsUpserted,
			result.ItemsSkipped, len(result.Errors), float64(result.DurationMs)/1000)
	}
	r.logger.Info("Connector run finished", map[string]interface{}{
		"source_id": result.SourceID,
		"found":     result.ItemsFound,
		"upserted":  result.ItemsUpserted,
		"skipped":   result.ItemsSkipped,
		"errors":    len(result.Errors),
	})
	return result
}

// execute runs fetch, normalize, and upsert for one source. The returned
// error is the run-level failure recorded on the SourceConfig; item-level
// upsert errors accumulate in result.Errors instead.
func (r *Runner) execute(ctx context.Context, source models.SourceConfig, result *models.ConnectorResult) error {
	conn, err := r.registry.Create(source, r.deps)
	if err != nil {
		return err
	}

	raw, err := conn.Fetch(ctx)
	if err != nil {
		return err
	}
	result.ItemsFound = len(raw)

	items := conn.Normalize(raw)
	for i := range items {
		item := &items[i]
		if err := r.upsertItem(ctx, source, item); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				result.ItemsSkipped++
				continue
			}
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ItemsUpserted++
	}
	return nil
}

func (r *Runner) upsertItem(ctx context.Context, source models.SourceConfig, item *models.ContentItem) error {
	if r.seen != nil && r.seen.Seen(ctx, item.TenantID, item.SourceID, item.ContentHash) {
		return repository.ErrDuplicate
	}
	if err := r.content.Insert(ctx, item); err != nil {
		return err
	}
	if r.seen != nil {
		r.seen.Mark(ctx, item.TenantID, item.SourceID, item.ContentHash)
	}

	if !source.ShouldEmbed || r.embedder == nil || r.index == nil {
		return nil
	}

	vector, err := r.embedder.Embed(ctx, item.TenantID, embedText(item))
	if err != nil {
		return fmt.Errorf("failed to embed item %q: %w", item.Title, err)
	}
	metadata := map[string]interface{}{
		"tenant_id": item.TenantID,
		"source_id": item.SourceID,
		"category":  item.Category,
		"title":     item.Title,
	}
	if item.URL != nil {
		metadata["url"] = *item.URL
	}
	err = r.index.Upsert(ctx, r.namespace, []vectorindex.Vector{{
		ID:       item.ID.String(),
		Values:   vector,
		Metadata: metadata,
	}})
	if err != nil {
		return fmt.Errorf("failed to index item %q: %w", item.Title, err)
	}
	return nil
}

// embedText builds the embedding input: title plus summary when present,
// otherwise title plus content, truncated to the provider ceiling.
func embedText(item *models.ContentItem) string {
	body := item.Content
	if item.Summary != nil && *item.Summary != "" {
		body = *item.Summary
	}
	text := item.Title + "\n" + body
	if len(text) > embedTextLimit {
		text = text[:embedTextLimit]
	}
	return text
}
