package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/answer"
	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/repository"
	"github.com/civicmesh/civicmesh/internal/retrieval"
	"github.com/civicmesh/civicmesh/internal/routing"
	"github.com/civicmesh/civicmesh/internal/service"
	"github.com/civicmesh/civicmesh/internal/vectorindex"
)

type memoryAnswerStore struct {
	entries map[string]*models.CachedAnswer
}

func (m *memoryAnswerStore) GetAnswer(ctx context.Context, key string) (*models.CachedAnswer, error) {
	return m.entries[key], nil
}

func (m *memoryAnswerStore) PutAnswer(ctx context.Context, entry *models.CachedAnswer) error {
	if m.entries == nil {
		m.entries = map[string]*models.CachedAnswer{}
	}
	m.entries[entry.Key] = entry
	return nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, tenantID, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubIndex struct{}

func (stubIndex) Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]interface{}) ([]vectorindex.Match, error) {
	return nil, nil
}

type emptyStore struct{}

func (emptyStore) ChunksByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.Chunk, error) {
	return map[string]models.Chunk{}, nil
}

func (emptyStore) ContentByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.ContentItem, error) {
	return map[string]models.ContentItem{}, nil
}

func (emptyStore) AdjacentChunks(ctx context.Context, tenantID string, documentID uuid.UUID, chunkIndex, radius int) ([]models.Chunk, error) {
	return nil, nil
}

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

func (stubLLM) StreamChat(ctx context.Context, req llm.StreamRequest, emit func(llm.StreamEvent) error) error {
	if err := emit(llm.StreamEvent{Delta: "Streamed answer."}); err != nil {
		return err
	}
	return emit(llm.StreamEvent{Done: true})
}

func newTestServer(t *testing.T, mock func(sqlmock.Sqlmock)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if mock != nil {
		mock(sqlMock)
	}
	sqlxDB := sqlx.NewDb(db, "postgres")

	logger := observability.NewNoopLogger()
	cache := answer.NewCache(&memoryAnswerStore{}, 0, logger)
	composer := answer.NewComposer(stubLLM{}, "gpt-4o-mini", cache, nil,
		answer.TenantInfo{Name: "Springfield", Phone: "555-0100", Website: "https://springfield.example"}, logger)
	router := routing.NewRouter(nil, nil, logger)
	search := retrieval.NewHybridSearch(stubEmbedder{}, stubIndex{}, emptyStore{}, retrieval.DefaultConfig(), logger)

	answers := service.NewAnswerService(router, search, composer, cache,
		retrieval.DefaultConfidenceThresholds(), nil, nil, logger)
	searchSvc := service.NewSearchService(router, search, cache, nil, nil, logger)

	return NewServer(
		Config{DefaultTenantID: "springfield", CronSecret: "cron-secret", AdminSecret: "admin-pass"},
		answers, searchSvc,
		repository.NewContentRepository(sqlxDB),
		repository.NewSourceRepository(sqlxDB),
		repository.NewIngestionLogRepository(sqlxDB),
		nil, nil, nil, nil, logger,
	)
}

func TestAnswerEndpoint_InvalidJSON(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnswerEndpoint_EmptyMessages(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader(`{"messages":[]}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnswerEndpoint_NoUserTurn(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"messages":[{"role":"assistant","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnswerEndpoint_StreamsEvents(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"messages":[{"role":"user","content":"when is trash pickup?"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	// Empty retrieval falls back; the stream still follows protocol order.
	payload := w.Body.String()
	confidenceAt := strings.Index(payload, `"data-confidence"`)
	deltaAt := strings.Index(payload, `"text-delta"`)
	endAt := strings.Index(payload, `"text-end"`)
	require.GreaterOrEqual(t, confidenceAt, 0)
	require.Greater(t, deltaAt, confidenceAt)
	require.Greater(t, endAt, deltaAt)
	assert.Contains(t, payload, "555-0100")
	for _, line := range strings.Split(strings.TrimSpace(payload), "\n\n") {
		assert.True(t, strings.HasPrefix(line, "data: "), "line %q", line)
	}
}

func TestSearchEndpoint_RequiresQuery(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEndpoint_EmptyResults(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"pool hours"}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"results":[]`)
	assert.Contains(t, w.Body.String(), `"timing_ms"`)
}

func TestContentEndpoint_ListsItems(t *testing.T) {
	s := newTestServer(t, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM content_items").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		rows := sqlmock.NewRows([]string{"id", "tenant_id", "source_id", "category", "title", "content", "content_hash", "created_at"}).
			AddRow(uuid.New(), "springfield", "src", "news", "Road closure", "Main St closed.", "h1", time.Now())
		mock.ExpectQuery("SELECT(.|\n)+FROM content_items").WillReturnRows(rows)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content?category=news", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Road closure")
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Contains(t, w.Body.String(), `"hasMore":false`)
}

func TestContentEndpoint_RejectsUnknownCategory(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content?category=gossip", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCronEndpoint_RequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCronEndpoint_UnconfiguredPipeline(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSourcesEndpoint_RequiresAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSourcesEndpoint_ListWithAdminSecret(t *testing.T) {
	s := newTestServer(t, func(mock sqlmock.Sqlmock) {
		rows := sqlmock.NewRows([]string{"id", "tenant_id", "connector_type", "category", "schedule", "config", "enabled", "should_embed", "error_count", "created_at", "updated_at"}).
			AddRow(uuid.New(), "springfield", "rss", "news", "hourly", []byte(`{}`), true, true, 0, time.Now(), time.Now())
		mock.ExpectQuery("SELECT(.|\n)+FROM sources").WillReturnRows(rows)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	req.Header.Set("Authorization", "Bearer admin-pass")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestCreateSource_ValidatesBody(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"connector_type":"carrier-pigeon","category":"news","schedule":"hourly"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-pass")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
