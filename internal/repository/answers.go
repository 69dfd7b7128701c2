package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/civicmesh/civicmesh/internal/models"
)

// AnswerRepository persists the durable answer cache.
type AnswerRepository struct {
	db *sqlx.DB
}

// NewAnswerRepository creates a new answer repository instance
func NewAnswerRepository(db *sqlx.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// GetAnswer retrieves a cached answer by key. A missing row returns
// (nil, nil); TTL checks are the caller's concern.
func (r *AnswerRepository) GetAnswer(ctx context.Context, key string) (*models.CachedAnswer, error) {
	var entry models.CachedAnswer
	query := `
		SELECT cache_key, tenant_id, answer_text, sources, stored_at, ttl_seconds
		FROM cached_answers
		WHERE cache_key = $1`

	err := r.db.GetContext(ctx, &entry, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached answer: %w", err)
	}
	return &entry, nil
}

// PutAnswer upserts a cached answer, refreshing stored_at on conflict.
func (r *AnswerRepository) PutAnswer(ctx context.Context, entry *models.CachedAnswer) error {
	query := `
		INSERT INTO cached_answers (cache_key, tenant_id, answer_text, sources, stored_at, ttl_seconds)
		VALUES (:cache_key, :tenant_id, :answer_text, :sources, :stored_at, :ttl_seconds)
		ON CONFLICT (cache_key) DO UPDATE
		SET answer_text = EXCLUDED.answer_text,
		    sources = EXCLUDED.sources,
		    stored_at = EXCLUDED.stored_at,
		    ttl_seconds = EXCLUDED.ttl_seconds`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to put cached answer: %w", err)
	}
	return nil
}

// DeleteExpired evicts entries past their TTL. Returns the rows removed.
func (r *AnswerRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cached_answers WHERE stored_at + (ttl_seconds * interval '1 second') < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired answers: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
