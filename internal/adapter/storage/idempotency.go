package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

type IdempotencyRepository struct {
	db DBTX
}

func NewIdempotencyRepository(db DBTX) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Find(ctx context.Context, owner domain.Principal, key string, notBefore time.Time) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT user_id, key_id, request_hash, transaction_id, response_body, created_at
		FROM idempotency_keys
		WHERE user_id = $1 AND key_id = $2 AND created_at >= $3`

	var rec domain.IdempotencyRecord
	var userID int64
	err := r.db.QueryRow(ctx, query, int64(owner), key, notBefore).Scan(
		&userID, &rec.Key, &rec.RequestHash, &rec.TransactionID, &rec.Response, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	rec.Owner = domain.Principal(userID)
	return &rec, nil
}

// Save inserts the key or takes over an expired one. A concurrent request
// holding the same live key blocks on the primary key until it commits and
// then finds no row to update.
func (r *IdempotencyRepository) Save(ctx context.Context, rec *domain.IdempotencyRecord, expiredBefore time.Time) error {
	query := `
		INSERT INTO idempotency_keys (user_id, key_id, request_hash, transaction_id, response_body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, key_id) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
			transaction_id = EXCLUDED.transaction_id,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at
		WHERE idempotency_keys.created_at < $7`

	tag, err := r.db.Exec(ctx, query,
		int64(rec.Owner), rec.Key, rec.RequestHash, rec.TransactionID, rec.Response, rec.CreatedAt, expiredBefore)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdempotencyKeyExists
	}
	return nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.IdempotencyStore = (*IdempotencyRepository)(nil)
