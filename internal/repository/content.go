package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/civicmesh/civicmesh/internal/models"
)

// ErrDuplicate is returned when a content item with the same
// (tenant_id, source_id, content_hash) already exists.
var ErrDuplicate = errors.New("duplicate content item")

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

// ContentRepository handles normalized connector output.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new content repository instance
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

const contentColumns = `
	id, tenant_id, source_id, category, title, content, summary,
	published_at, expires_at, url, image_url, metadata, content_hash,
	created_at`

// Insert stores one content item. A duplicate hash for the same tenant and
// source returns ErrDuplicate so callers can count it as skipped.
func (r *ContentRepository) Insert(ctx context.Context, item *models.ContentItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	query := `
		INSERT INTO content_items (
			id, tenant_id, source_id, category, title, content, summary,
			published_at, expires_at, url, image_url, metadata, content_hash
		) VALUES (
			:id, :tenant_id, :source_id, :category, :title, :content, :summary,
			:published_at, :expires_at, :url, :image_url, :metadata, :content_hash
		)`

	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert content item: %w", err)
	}
	return nil
}

// ListOptions filters the content listing.
type ListOptions struct {
	Category string
	SourceID string
	Limit    int
	Offset   int
}

// List returns non-expired content items for a tenant, newest first, and
// the total count matching the filter.
func (r *ContentRepository) List(ctx context.Context, tenantID string, opts ListOptions) ([]models.ContentItem, int, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := ` WHERE tenant_id = $1 AND (expires_at IS NULL OR expires_at > now())`
	args := []interface{}{tenantID}
	if opts.Category != "" {
		args = append(args, opts.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if opts.SourceID != "" {
		args = append(args, opts.SourceID)
		where += fmt.Sprintf(" AND source_id = $%d", len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM content_items`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count content items: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := `SELECT` + contentColumns + `FROM content_items` + where +
		fmt.Sprintf(" ORDER BY published_at DESC NULLS LAST, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list content items: %w", err)
	}
	return items, total, nil
}

// ByIDs fetches content items by id in one batch, keyed by id string.
func (r *ContentRepository) ByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.ContentItem, error) {
	if len(ids) == 0 {
		return map[string]models.ContentItem{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT`+contentColumns+`FROM content_items WHERE tenant_id = ? AND id IN (?)`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build content query: %w", err)
	}

	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch content items: %w", err)
	}

	out := make(map[string]models.ContentItem, len(items))
	for _, item := range items {
		out[item.ID.String()] = item
	}
	return out, nil
}

// DeleteExpired removes items past their expiry. Returns the number of
// rows removed.
func (r *ContentRepository) DeleteExpired(ctx context.Context, tenantID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM content_items WHERE tenant_id = $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired content: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
