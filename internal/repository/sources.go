// Package repository provides tenant-aware data access over PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicmesh/civicmesh/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SourceRepository handles connector source configurations.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository instance
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `
	id, tenant_id, connector_type, category, schedule, config,
	enabled, should_embed, last_fetched_at, last_error, error_count,
	created_at, updated_at`

// Create inserts a new source configuration.
func (r *SourceRepository) Create(ctx context.Context, source *models.SourceConfig) error {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	query := `
		INSERT INTO sources (
			id, tenant_id, connector_type, category, schedule,
			config, enabled, should_embed
		) VALUES (
			:id, :tenant_id, :connector_type, :category, :schedule,
			:config, :enabled, :should_embed
		)`

	if _, err := r.db.NamedExecContext(ctx, query, source); err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// Get retrieves one source scoped to a tenant.
func (r *SourceRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SourceConfig, error) {
	var source models.SourceConfig
	query := `SELECT` + sourceColumns + `FROM sources WHERE tenant_id = $1 AND id = $2`

	err := r.db.GetContext(ctx, &source, query, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

// ListEnabled retrieves enabled sources, optionally filtered by tenant and
// schedule.
func (r *SourceRepository) ListEnabled(ctx context.Context, tenantID, schedule string) ([]models.SourceConfig, error) {
	query := `SELECT` + sourceColumns + `FROM sources WHERE enabled = true`
	args := []interface{}{}
	if tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if schedule != "" {
		args = append(args, schedule)
		query += fmt.Sprintf(" AND schedule = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	var sources []models.SourceConfig
	if err := r.db.SelectContext(ctx, &sources, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}
	return sources, nil
}

// ListByTenant retrieves all sources for a tenant.
func (r *SourceRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.SourceConfig, error) {
	query := `SELECT` + sourceColumns + `FROM sources WHERE tenant_id = $1 ORDER BY created_at DESC`

	var sources []models.SourceConfig
	if err := r.db.SelectContext(ctx, &sources, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// Update replaces the mutable fields of a source.
func (r *SourceRepository) Update(ctx context.Context, source *models.SourceConfig) error {
	query := `
		UPDATE sources
		SET
			connector_type = :connector_type,
			category = :category,
			schedule = :schedule,
			config = :config,
			enabled = :enabled,
			should_embed = :should_embed,
			updated_at = now()
		WHERE tenant_id = :tenant_id AND id = :id`

	result, err := r.db.NamedExecContext(ctx, query, source)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a source.
func (r *SourceRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sources WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRun updates the bookkeeping fields after a connector run. A nil
// runErr clears the error state.
func (r *SourceRepository) RecordRun(ctx context.Context, id uuid.UUID, fetchedAt time.Time, runErr error) error {
	var query string
	var args []interface{}
	if runErr == nil {
		query = `
			UPDATE sources
			SET last_fetched_at = $1, error_count = 0, last_error = NULL, updated_at = now()
			WHERE id = $2`
		args = []interface{}{fetchedAt, id}
	} else {
		query = `
			UPDATE sources
			SET last_fetched_at = $1, error_count = error_count + 1, last_error = $2, updated_at = now()
			WHERE id = $3`
		args = []interface{}{fetchedAt, runErr.Error(), id}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record source run: %w", err)
	}
	return nil
}
