package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

type LedgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const transactionColumns = `
	transaction_id, reference_number, from_account_id, to_account_id,
	to_account_number, to_ifsc_code, beneficiary_name, amount,
	transaction_type, status, description, transaction_fee, created_at, processed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status string
	err := row.Scan(
		&tx.ID, &tx.ReferenceNumber, &tx.FromAccountID, &tx.ToAccountID,
		&tx.ToAccountNumber, &tx.ToIFSCCode, &tx.BeneficiaryName, &tx.Amount,
		&txType, &status, &tx.Description, &tx.Fee, &tx.CreatedAt, &tx.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

// Insert writes a PENDING record under a savepoint, so a reference
// collision can be retried without aborting the surrounding transaction.
func (r *LedgerRepository) Insert(ctx context.Context, tx *domain.Transaction) error {
	if tx.Status != domain.StatusPending {
		return fmt.Errorf("insert %s record: %w", tx.Status, domain.ErrInvalidStatusTransition)
	}

	sp, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = sp.Exec(ctx, query,
		tx.ID, tx.ReferenceNumber, tx.FromAccountID, tx.ToAccountID,
		tx.ToAccountNumber, tx.ToIFSCCode, tx.BeneficiaryName, tx.Amount,
		string(tx.Type), string(tx.Status), tx.Description, tx.Fee, tx.CreatedAt, tx.ProcessedAt,
	)
	if isUniqueViolation(err, "transactions_reference_number_key") {
		return domain.ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return sp.Commit(ctx)
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListForAccounts fetches records anchored at the given accounts, newest first
func (r *LedgerRepository) ListForAccounts(ctx context.Context, accountIDs []int64, since time.Time) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, accountIDs, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var history []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		history = append(history, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return history, nil
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, processedAt time.Time) error {
	if !domain.StatusPending.CanTransition(status) {
		return fmt.Errorf("PENDING -> %s: %w", status, domain.ErrInvalidStatusTransition)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, processed_at = $3
		WHERE transaction_id = $1 AND status = 'PENDING'`,
		id, string(status), processedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM transactions WHERE transaction_id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction %s: %w", id, err)
	}
	return fmt.Errorf("%s -> %s: %w", current, status, domain.ErrInvalidStatusTransition)
}

var _ domain.Ledger = (*LedgerRepository)(nil)
