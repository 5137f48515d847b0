// Package transfer moves money between accounts. Every balance change and
// the ledger rows describing it commit together through domain.Store, and
// the engine is the only writer of balances and transaction status.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/metrics"
	"github.com/chatrapathi4/bluebank/internal/core/notifications"
)

// Config bounds what a single operation may do.
type Config struct {
	// Limit is the largest amount a single operation may move.
	Limit decimal.Decimal
	// LockTimeout bounds a whole operation, including waits for row locks.
	LockTimeout time.Duration
	// IdempotencyTTL is how long a client key replays its first result.
	IdempotencyTTL time.Duration
	// ReferenceAttempts bounds reference number regeneration on collision.
	ReferenceAttempts int
}

func DefaultConfig() Config {
	return Config{
		Limit:             domain.DefaultTransferLimit,
		LockTimeout:       5 * time.Second,
		IdempotencyTTL:    24 * time.Hour,
		ReferenceAttempts: 5,
	}
}

// ResultCache fronts the idempotency store.
type ResultCache interface {
	Get(ctx context.Context, owner domain.Principal, key string) (*domain.IdempotencyRecord, error)
	Set(ctx context.Context, rec *domain.IdempotencyRecord) error
}

// Publisher receives an event after each committed operation.
type Publisher interface {
	Publish(ctx context.Context, evt notifications.Event) error
}

type Engine struct {
	store     domain.Store
	cfg       Config
	cache     ResultCache
	publisher Publisher
	metrics   *metrics.Metrics

	newReference func() (string, error)
	newID        func() uuid.UUID
	now          func() time.Time
}

type Option func(*Engine)

func WithCache(c ResultCache) Option { return func(e *Engine) { e.cache = c } }

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithReferenceGenerator replaces domain.NewReferenceNumber.
func WithReferenceGenerator(gen func() (string, error)) Option {
	return func(e *Engine) { e.newReference = gen }
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store domain.Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if !cfg.Limit.IsPositive() {
		cfg.Limit = def.Limit
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.ReferenceAttempts <= 0 {
		cfg.ReferenceAttempts = def.ReferenceAttempts
	}

	e := &Engine{
		store:        store,
		cfg:          cfg,
		newReference: domain.NewReferenceNumber,
		newID:        uuid.New,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// insert stores rec with a fresh reference number, regenerating it on
// collision up to the configured bound.
func (e *Engine) insert(ctx context.Context, ledger domain.Ledger, rec *domain.Transaction) error {
	for attempt := 1; attempt <= e.cfg.ReferenceAttempts; attempt++ {
		ref, err := e.newReference()
		if err != nil {
			return err
		}
		rec.ReferenceNumber = ref

		err = ledger.Insert(ctx, rec)
		if !errors.Is(err, domain.ErrDuplicateReference) {
			return err
		}
		slog.Warn("Reference number collision, regenerating", "attempt", attempt)
	}
	return domain.ErrReferenceGenerationExhausted
}

// classify keeps classified errors as they are and folds everything else
// into ErrTimeout or ErrUnknown.
func classify(err error) error {
	if domain.ErrorCode(err) != "unknown" || errors.Is(err, domain.ErrUnknown) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnknown, err)
}

func (e *Engine) publish(ctx context.Context, evt notifications.Event) {
	if e.publisher == nil {
		return
	}
	evt.Timestamp = e.now().UTC()
	if err := e.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("Failed to publish ledger event", "error", err, "event", evt.Type, "reference", evt.ReferenceNumber)
	}
}

func (e *Engine) finish(operation string, start time.Time, err error, attrs ...any) {
	e.metrics.Observe(operation, domain.ErrorCode(err), e.now().Sub(start))
	if err == nil {
		return
	}
	attrs = append(attrs, "operation", operation, "error", err)
	if domain.IsValidation(err) {
		slog.Warn("Ledger operation rejected", attrs...)
		return
	}
	slog.Error("❌ Ledger operation failed", attrs...)
}
