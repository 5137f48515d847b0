package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// lookup finds an unexpired record for (owner, key), cache first.
func (e *Engine) lookup(ctx context.Context, owner domain.Principal, key string) (*domain.IdempotencyRecord, error) {
	notBefore := e.now().Add(-e.cfg.IdempotencyTTL)

	if e.cache != nil {
		rec, err := e.cache.Get(ctx, owner, key)
		switch {
		case err == nil && !rec.CreatedAt.Before(notBefore):
			return rec, nil
		case err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound):
			slog.Warn("Idempotency cache read failed", "error", err, "key", key)
		}
	}

	rec, err := e.store.Idempotency().Find(ctx, owner, key, notBefore)
	if err != nil {
		return nil, err
	}
	e.cacheRecord(ctx, rec)
	return rec, nil
}

// replayInto decodes the stored result for key into a T, or returns nil
// when no unexpired record exists.
func replayInto[T any](e *Engine, ctx context.Context, owner domain.Principal, key, hash string) (*T, error) {
	rec, err := e.lookup(ctx, owner, key)
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if rec.RequestHash != hash {
		return nil, domain.ErrIdempotencyMismatch
	}

	var out T
	if err := json.Unmarshal(rec.Response, &out); err != nil {
		return nil, fmt.Errorf("%w: decode stored result: %w", domain.ErrUnknown, err)
	}
	e.metrics.Replayed()
	slog.Info("Idempotent replay", "key", key, "transaction_id", rec.TransactionID)
	return &out, nil
}

func (e *Engine) replay(ctx context.Context, owner domain.Principal, key, hash string) (*Result, error) {
	res, err := replayInto[Result](e, ctx, owner, key, hash)
	if res != nil {
		res.Replayed = true
	}
	return res, err
}

// settledElsewhere looks the key up again after a failed attempt. A
// request with the same key may have committed while this one waited for
// its locks, and then that result is the answer. ok is false when nothing
// was found and the original failure stands.
func settledElsewhere[T any](replay func() (*T, error)) (prior *T, ok bool, err error) {
	prior, err = replay()
	if errors.Is(err, domain.ErrIdempotencyMismatch) {
		return nil, true, err
	}
	return prior, prior != nil, nil
}

// remember stores result under key inside the unit of work, so the record
// commits or rolls back with the money movement it describes.
func (e *Engine) remember(ctx context.Context, uow domain.UnitOfWork, owner domain.Principal, key, hash string, txID uuid.UUID, result any) (*domain.IdempotencyRecord, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	now := e.now()
	rec := &domain.IdempotencyRecord{
		Owner:         owner,
		Key:           key,
		RequestHash:   hash,
		TransactionID: txID,
		Response:      body,
		CreatedAt:     now,
	}
	if err := uow.Idempotency().Save(ctx, rec, now.Add(-e.cfg.IdempotencyTTL)); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) cacheRecord(ctx context.Context, rec *domain.IdempotencyRecord) {
	if e.cache == nil || rec == nil {
		return
	}
	if err := e.cache.Set(ctx, rec); err != nil {
		slog.Warn("Idempotency cache write failed", "error", err, "key", rec.Key)
	}
}
