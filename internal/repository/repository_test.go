package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestContentRepository_InsertDuplicateReturnsTypedError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectExec("INSERT INTO content_items").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Insert(context.Background(), &models.ContentItem{
		TenantID:    "springfield",
		SourceID:    "src-1",
		Category:    models.CategoryNews,
		Title:       "Road closure",
		Content:     "Main St closed.",
		ContentHash: "abc123",
	})

	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepository_InsertOtherErrorWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectExec("INSERT INTO content_items").
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), &models.ContentItem{Title: "x"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
}

func TestContentRepository_ByIDsEmptyInput(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewContentRepository(db)

	got, err := repo.ByIDs(context.Background(), "springfield", nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContentRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM content_items").
		WithArgs("springfield", "news").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "source_id", "category", "title", "content", "content_hash", "created_at"}).
		AddRow(id, "springfield", "src-1", "news", "Road closure", "Main St closed.", "abc", now)
	mock.ExpectQuery("SELECT(.|\n)+FROM content_items").
		WithArgs("springfield", "news", 20, 0).
		WillReturnRows(rows)

	items, total, err := repo.List(context.Background(), "springfield", ListOptions{Category: "news"})

	require.NoError(t, err)
	assert.Equal(t, 42, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Road closure", items[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepository_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSourceRepository(db)

	id := uuid.New()
	mock.ExpectQuery("SELECT(.|\n)+FROM sources").
		WithArgs("springfield", id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "springfield", id)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceRepository_ListEnabledFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSourceRepository(db)

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "connector_type", "category", "schedule", "config", "enabled", "should_embed", "error_count", "created_at", "updated_at"}).
		AddRow(id, "springfield", "rss", "news", "hourly", []byte(`{}`), true, true, 0, now, now)
	mock.ExpectQuery("SELECT(.|\n)+FROM sources WHERE enabled = true AND tenant_id = \\$1 AND schedule = \\$2").
		WithArgs("springfield", "hourly").
		WillReturnRows(rows)

	sources, err := repo.ListEnabled(context.Background(), "springfield", "hourly")

	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "rss", sources[0].ConnectorType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepository_RecordRunSuccessClearsError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSourceRepository(db)

	id := uuid.New()
	fetchedAt := time.Now()
	mock.ExpectExec("UPDATE sources").
		WithArgs(fetchedAt, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordRun(context.Background(), id, fetchedAt, nil)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepository_RecordRunFailureIncrementsError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSourceRepository(db)

	id := uuid.New()
	fetchedAt := time.Now()
	mock.ExpectExec("UPDATE sources").
		WithArgs(fetchedAt, "feed unreachable", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordRun(context.Background(), id, fetchedAt, errors.New("feed unreachable"))

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnswerRepository_GetAnswerMissReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnswerRepository(db)

	mock.ExpectQuery("SELECT(.|\n)+FROM cached_answers").
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"cache_key"}))

	got, err := repo.GetAnswer(context.Background(), "key-1")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAnswerRepository_GetAnswerHit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnswerRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"cache_key", "tenant_id", "answer_text", "sources", "stored_at", "ttl_seconds"}).
		AddRow("key-1", "springfield", "Cached answer.", []byte(`[]`), now, 604800)
	mock.ExpectQuery("SELECT(.|\n)+FROM cached_answers").
		WithArgs("key-1").
		WillReturnRows(rows)

	got, err := repo.GetAnswer(context.Background(), "key-1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Cached answer.", got.AnswerText)
	assert.Equal(t, 604800, got.TTLSeconds)
}

func TestDocumentRepository_UpdateMonitorStateAdvancesVerification(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	id := uuid.New()
	verifiedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE documents SET metadata = \\$1, last_verified_at = \\$2, is_stale = false").
		WithArgs(sqlmock.AnyArg(), verifiedAt, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateMonitorState(context.Background(), id,
		models.DocumentMetadata{ETag: `"v1"`}, verifiedAt)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_ChunksByIDsEmptyInput(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewDocumentRepository(db)

	got, err := repo.ChunksByIDs(context.Background(), "springfield", nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentRepository_AdjacentChunksRange(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	docID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "document_id", "chunk_index", "chunk_text", "created_at"}).
		AddRow(uuid.New(), "springfield", docID, 4, "before", now).
		AddRow(uuid.New(), "springfield", docID, 5, "target", now).
		AddRow(uuid.New(), "springfield", docID, 6, "after", now)
	mock.ExpectQuery("SELECT(.|\n)+FROM chunks").
		WithArgs("springfield", docID, 2, 8).
		WillReturnRows(rows)

	chunks, err := repo.AdjacentChunks(context.Background(), "springfield", docID, 5, 3)

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "target", chunks[1].ChunkText)
}

func TestUsageRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	mock.ExpectExec("INSERT INTO usage_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.UsageRecord{
		TenantID:         "springfield",
		Endpoint:         "chat",
		Model:            "gpt-4o-mini",
		TotalTokens:      120,
		EstimatedCostUSD: 0.0004,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionLogRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIngestionLogRepository(db)

	mock.ExpectExec("INSERT INTO ingestion_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &models.IngestionLogEntry{
		TenantID:    "springfield",
		RunType:     "monitor",
		TriggeredBy: "cron",
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
