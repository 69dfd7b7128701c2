// Package models defines the persisted and transient data types shared
// across the civicmesh service.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDimensions is the fixed dimension of all stored vectors.
const EmbeddingDimensions = 1536

// Content categories form a closed set; connectors must emit one of these.
const (
	CategoryNews       = "news"
	CategoryEvents     = "events"
	CategoryDining     = "dining"
	CategorySafety     = "safety"
	CategoryTransit    = "transit"
	CategoryWeather    = "weather"
	CategoryGovernment = "government"
	CategoryCommunity  = "community"
	CategorySports     = "sports"
)

// Categories lists every valid content category.
var Categories = []string{
	CategoryNews, CategoryEvents, CategoryDining, CategorySafety,
	CategoryTransit, CategoryWeather, CategoryGovernment,
	CategoryCommunity, CategorySports,
}

// ValidCategory reports whether c is a member of the closed category set.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Connector types supported by the registry.
const (
	ConnectorRSS    = "rss"
	ConnectorICal   = "ical"
	ConnectorScrape = "scrape"
	ConnectorAPI    = "api"
	ConnectorPDF    = "pdf"
)

// Schedule names and their intervals.
const (
	Schedule5Min   = "5min"
	Schedule15Min  = "15min"
	ScheduleHourly = "hourly"
	ScheduleDaily  = "daily"
	ScheduleWeekly = "weekly"
)

// ScheduleInterval maps a schedule name to its minimum re-fetch interval.
// Unknown schedules fall back to daily.
func ScheduleInterval(schedule string) time.Duration {
	switch schedule {
	case Schedule5Min:
		return 5 * time.Minute
	case Schedule15Min:
		return 15 * time.Minute
	case ScheduleHourly:
		return time.Hour
	case ScheduleWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Document represents a tracked source page or file.
type Document struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	TenantID       string          `db:"tenant_id" json:"tenant_id"`
	URL            string          `db:"url" json:"url"`
	Title          *string         `db:"title" json:"title,omitempty"`
	ContentHash    *string         `db:"content_hash" json:"content_hash,omitempty"`
	SourceType     string          `db:"source_type" json:"source_type"` // html | pdf
	Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	LastVerifiedAt *time.Time      `db:"last_verified_at" json:"last_verified_at,omitempty"`
	IsStale        bool            `db:"is_stale" json:"is_stale"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// DocumentMetadata is the typed view of Document.Metadata used by the
// change monitor.
type DocumentMetadata struct {
	ETag          string `json:"etag,omitempty"`
	LastModified  string `json:"last_modified,omitempty"`
	ContentLength string `json:"content_length,omitempty"`
	LastChecked   string `json:"last_checked,omitempty"`
}

// Chunk is an embedded passage extracted from a Document.
type Chunk struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	TenantID   string          `db:"tenant_id" json:"tenant_id"`
	DocumentID uuid.UUID       `db:"document_id" json:"document_id"`
	ChunkIndex int             `db:"chunk_index" json:"chunk_index"`
	ChunkText  string          `db:"chunk_text" json:"chunk_text"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ChunkMetadata is the typed view of Chunk.Metadata.
type ChunkMetadata struct {
	DocumentTitle string `json:"document_title,omitempty"`
	DocumentURL   string `json:"document_url,omitempty"`
	Section       string `json:"section,omitempty"`
	PageNumber    *int   `json:"page_number,omitempty"`
	Date          string `json:"date,omitempty"`
}

// ContentItem is a normalized record produced by a connector.
// (tenant_id, source_id, content_hash) is the dedup key.
type ContentItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	SourceID    string          `db:"source_id" json:"source_id"`
	Category    string          `db:"category" json:"category"`
	Title       string          `db:"title" json:"title"`
	Content     string          `db:"content" json:"content"`
	Summary     *string         `db:"summary" json:"summary,omitempty"`
	PublishedAt *time.Time      `db:"published_at" json:"published_at,omitempty"`
	ExpiresAt   *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	URL         *string         `db:"url" json:"url,omitempty"`
	ImageURL    *string         `db:"image_url" json:"image_url,omitempty"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	ContentHash string          `db:"content_hash" json:"content_hash"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// SourceConfig is the persistent configuration of one connector.
type SourceConfig struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	ConnectorType string          `db:"connector_type" json:"connector_type"`
	Category      string          `db:"category" json:"category"`
	Schedule      string          `db:"schedule" json:"schedule"`
	Config        json.RawMessage `db:"config" json:"config"`
	Enabled       bool            `db:"enabled" json:"enabled"`
	ShouldEmbed   bool            `db:"should_embed" json:"should_embed"`
	LastFetchedAt *time.Time      `db:"last_fetched_at" json:"last_fetched_at,omitempty"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	ErrorCount    int             `db:"error_count" json:"error_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Due reports whether the source should be fetched at the given time.
func (s *SourceConfig) Due(now time.Time) bool {
	if s.LastFetchedAt == nil {
		return true
	}
	return now.Sub(*s.LastFetchedAt) >= ScheduleInterval(s.Schedule)
}

// SourceRef identifies one cited source in an answer.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// CachedAnswer is a finished answer stored by the answer cache.
type CachedAnswer struct {
	Key        string      `db:"cache_key" json:"cache_key"`
	TenantID   string      `db:"tenant_id" json:"tenant_id"`
	AnswerText string      `db:"answer_text" json:"answer_text"`
	Sources    []SourceRef `db:"-" json:"sources"`
	SourcesRaw []byte      `db:"sources" json:"-"`
	StoredAt   time.Time   `db:"stored_at" json:"stored_at"`
	TTLSeconds int         `db:"ttl_seconds" json:"ttl_seconds"`
}

// Expired reports whether the entry is older than its TTL at the given time.
func (a *CachedAnswer) Expired(now time.Time) bool {
	return now.Sub(a.StoredAt) > time.Duration(a.TTLSeconds)*time.Second
}

// SourceAttribution describes where a retrieved chunk came from.
type SourceAttribution struct {
	SourceID      string `json:"source_id"`
	Citation      string `json:"citation"`
	DocumentTitle string `json:"document_title"`
	DocumentURL   string `json:"document_url,omitempty"`
	Section       string `json:"section,omitempty"`
	Date          string `json:"date,omitempty"`
	PageNumber    *int   `json:"page_number,omitempty"`
}

// RetrievedChunk is the transient projection returned by hybrid search.
type RetrievedChunk struct {
	ID         string                 `json:"id"`
	ChunkText  string                 `json:"chunk_text"`
	Similarity float64                `json:"similarity"`
	Score      float64                `json:"score"` // combined weighted score
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Source     SourceAttribution      `json:"source"`
}

// RawItem is one un-normalized record fetched by a connector.
type RawItem struct {
	ID          string            `json:"id,omitempty"`
	Title       string            `json:"title"`
	Link        string            `json:"link,omitempty"`
	Description string            `json:"description,omitempty"`
	Published   *time.Time        `json:"published,omitempty"`
	Ends        *time.Time        `json:"ends,omitempty"`
	Location    string            `json:"location,omitempty"`
	Category    string            `json:"category,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// ConnectorResult summarizes one connector run.
type ConnectorResult struct {
	SourceID      string   `json:"id"`
	ItemsFound    int      `json:"items_found"`
	ItemsUpserted int      `json:"items_upserted"`
	ItemsSkipped  int      `json:"items_skipped"`
	Errors        []string `json:"errors,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
}

// MonitorResult summarizes one change-detection run.
type MonitorResult struct {
	Checked    int      `json:"checked"`
	Changed    []string `json:"changed"`
	New        []string `json:"new"`
	Errors     int      `json:"errors"`
	DurationMs int64    `json:"duration_ms"`
}

// IngestionLogEntry is one row of the ingestion_log table.
type IngestionLogEntry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	RunType     string          `db:"run_type" json:"run_type"` // ingest | monitor | cron
	TriggeredBy string          `db:"triggered_by" json:"triggered_by"`
	Detail      json.RawMessage `db:"detail" json:"detail,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// UsageRecord is one provider invocation for cost accounting.
type UsageRecord struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TenantID         string          `db:"tenant_id" json:"tenant_id"`
	Endpoint         string          `db:"endpoint" json:"endpoint"`
	Model            string          `db:"model" json:"model"`
	PromptTokens     int             `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int             `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int             `db:"total_tokens" json:"total_tokens"`
	EstimatedCostUSD float64         `db:"estimated_cost_usd" json:"estimated_cost_usd"`
	Metadata         json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Message is one turn of a conversation sent to the answer endpoint.
type Message struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content" binding:"required"`
}
