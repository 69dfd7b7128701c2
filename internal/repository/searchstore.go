package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/civicmesh/civicmesh/internal/models"
)

// SearchStore bundles the document and content repositories behind the
// single store surface hybrid retrieval expects.
type SearchStore struct {
	documents *DocumentRepository
	content   *ContentRepository
}

// NewSearchStore creates a SearchStore.
func NewSearchStore(documents *DocumentRepository, content *ContentRepository) *SearchStore {
	return &SearchStore{documents: documents, content: content}
}

func (s *SearchStore) ChunksByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.Chunk, error) {
	return s.documents.ChunksByIDs(ctx, tenantID, ids)
}

func (s *SearchStore) ContentByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.ContentItem, error) {
	return s.content.ByIDs(ctx, tenantID, ids)
}

func (s *SearchStore) AdjacentChunks(ctx context.Context, tenantID string, documentID uuid.UUID, chunkIndex, radius int) ([]models.Chunk, error) {
	return s.documents.AdjacentChunks(ctx, tenantID, documentID, chunkIndex, radius)
}
