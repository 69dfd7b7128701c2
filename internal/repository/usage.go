package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicmesh/civicmesh/internal/models"
)

// UsageRepository persists provider usage rows for cost accounting.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Insert writes one usage record.
func (r *UsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	query := `
		INSERT INTO usage_records (
			id, tenant_id, endpoint, model, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost_usd, metadata
		) VALUES (
			:id, :tenant_id, :endpoint, :model, :prompt_tokens,
			:completion_tokens, :total_tokens, :estimated_cost_usd, :metadata
		)`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// TenantTotals sums cost and tokens for a tenant since a point in time.
func (r *UsageRepository) TenantTotals(ctx context.Context, tenantID string, since time.Time) (totalTokens int, totalCostUSD float64, err error) {
	query := `
		SELECT COALESCE(sum(total_tokens), 0), COALESCE(sum(estimated_cost_usd), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2`

	row := r.db.QueryRowContext(ctx, query, tenantID, since)
	if err := row.Scan(&totalTokens, &totalCostUSD); err != nil {
		return 0, 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return totalTokens, totalCostUSD, nil
}
