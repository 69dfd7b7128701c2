// Package connector implements the pluggable content source framework:
// RSS and iCal feed readers, a generic page scraper, and the geographic
// relevance filter applied to scraped output.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
)

// Typed connector failures.
var (
	ErrFetch   = errors.New("connector fetch failed")
	ErrTimeout = errors.New("connector fetch timed out")
)

// DefaultFetchTimeout bounds feed fetches.
const DefaultFetchTimeout = 30 * time.Second

// Connector is the contract every content source implements. Fetch is
// I/O-heavy and must respect its context; Normalize is pure and must
// produce deterministic content hashes.
type Connector interface {
	ID() string
	Type() string
	Category() string
	Schedule() string
	TenantID() string
	ShouldEmbed() bool
	Fetch(ctx context.Context) ([]models.RawItem, error)
	Normalize(items []models.RawItem) []models.ContentItem
}

// Factory builds a connector from its stored configuration.
type Factory func(source models.SourceConfig, deps Deps) (Connector, error)

// Deps carries the shared collaborators connectors need.
type Deps struct {
	HTTPClient *http.Client
	Logger     observability.Logger
	GeoFilter  *GeoFilter
	Now        func() time.Time
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: DefaultFetchTimeout}
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Registry maps connector type keys to factories. Keys are either a bare
// type ("rss") or a type with subtype specialization ("scrape:news").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in
// connector types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(models.ConnectorRSS, NewRSSConnector)
	r.Register(models.ConnectorICal, NewICalConnector)
	r.Register(models.ConnectorScrape, NewScrapeConnector)
	return r
}

// Register adds or replaces a factory for a type key.
func (r *Registry) Register(key string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Create instantiates the connector for a source. A "type:subtype"
// registration wins over the bare type.
func (r *Registry) Create(source models.SourceConfig, deps Deps) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if subtype := sourceSubtype(source); subtype != "" {
		if factory, ok := r.factories[source.ConnectorType+":"+subtype]; ok {
			return factory(source, deps)
		}
	}
	factory, ok := r.factories[source.ConnectorType]
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q", source.ConnectorType)
	}
	return factory(source, deps)
}

// Types returns the registered type keys, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sourceSubtype(source models.SourceConfig) string {
	var cfg struct {
		Subtype string `json:"subtype"`
	}
	if len(source.Config) > 0 {
		_ = json.Unmarshal(source.Config, &cfg)
	}
	return cfg.Subtype
}

// base carries the identity fields shared by all connectors.
type base struct {
	source models.SourceConfig
	deps   Deps
}

func (b *base) ID() string        { return b.source.ID.String() }
func (b *base) Category() string  { return b.source.Category }
func (b *base) Schedule() string  { return b.source.Schedule }
func (b *base) TenantID() string  { return b.source.TenantID }
func (b *base) ShouldEmbed() bool { return b.source.ShouldEmbed }

// fetchBody retrieves a URL with the given timeout, classifying timeouts
// separately from other failures.
func fetchBody(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %v", ErrFetch, url, err)
	}
	req.Header.Set("User-Agent", "civicmesh/1.0 (+https://civicmesh.dev)")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrFetch, url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFetch, url, err)
	}
	return body, nil
}

// configString reads a string field from the source's JSON config.
func configString(source models.SourceConfig, key string) string {
	var cfg map[string]interface{}
	if len(source.Config) == 0 {
		return ""
	}
	if err := json.Unmarshal(source.Config, &cfg); err != nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func configInt(source models.SourceConfig, key string, fallback int) int {
	var cfg map[string]interface{}
	if len(source.Config) == 0 {
		return fallback
	}
	if err := json.Unmarshal(source.Config, &cfg); err != nil {
		return fallback
	}
	if v, ok := cfg[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}
