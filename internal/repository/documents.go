package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicmesh/civicmesh/internal/models"
)

// DocumentRepository handles tracked documents and their chunks.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new document repository instance
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	id, tenant_id, url, title, content_hash, source_type, metadata,
	last_verified_at, is_stale, created_at, updated_at`

// ListByTenant retrieves all tracked documents for a tenant.
func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Document, error) {
	query := `SELECT` + documentColumns + `FROM documents WHERE tenant_id = $1 ORDER BY url ASC`

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// GetByURL retrieves one document by its URL.
func (r *DocumentRepository) GetByURL(ctx context.Context, tenantID, url string) (*models.Document, error) {
	var doc models.Document
	query := `SELECT` + documentColumns + `FROM documents WHERE tenant_id = $1 AND url = $2`

	err := r.db.GetContext(ctx, &doc, query, tenantID, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// UpdateMonitorState writes the headers observed by the change monitor and
// advances the document's verification timestamp so it does not age into
// staleness while checks keep succeeding.
func (r *DocumentRepository) UpdateMonitorState(ctx context.Context, id uuid.UUID, metadata models.DocumentMetadata, verifiedAt time.Time) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	query := `UPDATE documents SET metadata = $1, last_verified_at = $2, is_stale = false, updated_at = now() WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, raw, verifiedAt, id); err != nil {
		return fmt.Errorf("failed to update document metadata: %w", err)
	}
	return nil
}

// MarkStale flags documents whose last verification is older than the
// horizon. Returns the ids flagged.
func (r *DocumentRepository) MarkStale(ctx context.Context, tenantID string, olderThan time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE documents
		SET is_stale = true, updated_at = now()
		WHERE tenant_id = $1
		  AND is_stale = false
		  AND (last_verified_at IS NULL OR last_verified_at < $2)
		RETURNING id`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, tenantID, olderThan); err != nil {
		return nil, fmt.Errorf("failed to mark stale documents: %w", err)
	}
	return ids, nil
}

// ChunksByIDs fetches chunks by id in one batch, keyed by id string.
func (r *DocumentRepository) ChunksByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.Chunk, error) {
	if len(ids) == 0 {
		return map[string]models.Chunk{}, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, tenant_id, document_id, chunk_index, chunk_text, metadata, created_at
		FROM chunks
		WHERE tenant_id = ? AND id IN (?)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build chunk query: %w", err)
	}

	var chunks []models.Chunk
	if err := r.db.SelectContext(ctx, &chunks, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}

	out := make(map[string]models.Chunk, len(chunks))
	for _, chunk := range chunks {
		out[chunk.ID.String()] = chunk
	}
	return out, nil
}

// AdjacentChunks returns the chunks of a document whose index lies within
// radius of chunkIndex, ordered by index.
func (r *DocumentRepository) AdjacentChunks(ctx context.Context, tenantID string, documentID uuid.UUID, chunkIndex, radius int) ([]models.Chunk, error) {
	query := `
		SELECT id, tenant_id, document_id, chunk_index, chunk_text, metadata, created_at
		FROM chunks
		WHERE tenant_id = $1 AND document_id = $2
		  AND chunk_index BETWEEN $3 AND $4
		ORDER BY chunk_index ASC`

	var chunks []models.Chunk
	err := r.db.SelectContext(ctx, &chunks, query, tenantID, documentID, chunkIndex-radius, chunkIndex+radius)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch adjacent chunks: %w", err)
	}
	return chunks, nil
}
