package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// Postgres error codes the store classifies.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgQueryCanceled    = "57014"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository
// works the same inside and outside an atomic section.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements domain.Store on a pgx pool.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	pgUnit
}

type pgUnit struct {
	accounts    *AccountRepository
	ledger      *LedgerRepository
	idempotency *IdempotencyRepository
}

func newUnit(db DBTX) pgUnit {
	return pgUnit{
		accounts:    NewAccountRepository(db),
		ledger:      NewLedgerRepository(db),
		idempotency: NewIdempotencyRepository(db),
	}
}

func (u pgUnit) Accounts() domain.AccountStore        { return u.accounts }
func (u pgUnit) Ledger() domain.Ledger                { return u.ledger }
func (u pgUnit) Idempotency() domain.IdempotencyStore { return u.idempotency }

// NewPostgresStore builds a store. lockTimeout bounds how long a statement
// inside Atomically waits for a row lock; zero leaves the server default.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout, pgUnit: newUnit(pool)}
}

// Atomically runs fn inside one READ COMMITTED transaction. Row locks taken
// by the repositories (SELECT ... FOR UPDATE) hold until commit or rollback.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(uow domain.UnitOfWork) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	if err := fn(newUnit(tx)); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// Directory returns the owner/API key/account-opening repository.
func (s *PostgresStore) Directory() *UserRepository {
	return NewUserRepository(s.pool)
}

// classify turns lock waits and deadline expiry into domain.ErrTimeout.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailable || pgErr.Code == pgQueryCanceled) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

var _ domain.Store = (*PostgresStore)(nil)
