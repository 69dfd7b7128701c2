package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicmesh/civicmesh/internal/models"
)

// IngestionLogRepository records monitor and ingest runs.
type IngestionLogRepository struct {
	db *sqlx.DB
}

// NewIngestionLogRepository creates a new ingestion log repository instance
func NewIngestionLogRepository(db *sqlx.DB) *IngestionLogRepository {
	return &IngestionLogRepository{db: db}
}

// Append writes one run entry.
func (r *IngestionLogRepository) Append(ctx context.Context, entry *models.IngestionLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := `
		INSERT INTO ingestion_log (id, tenant_id, run_type, triggered_by, detail)
		VALUES (:id, :tenant_id, :run_type, :triggered_by, :detail)`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to append ingestion log: %w", err)
	}
	return nil
}

// Recent lists the latest entries for a tenant.
func (r *IngestionLogRepository) Recent(ctx context.Context, tenantID string, limit int) ([]models.IngestionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, tenant_id, run_type, triggered_by, detail, created_at
		FROM ingestion_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var entries []models.IngestionLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("failed to list ingestion log: %w", err)
	}
	return entries, nil
}
