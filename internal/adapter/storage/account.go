package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

type AccountRepository struct {
	db DBTX
}

func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	a.id, a.account_number, a.user_id, TRIM(u.first_name || ' ' || u.last_name),
	a.balance, a.status, a.ifsc_code, a.created_at, a.updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	var owner int64
	var status string
	err := row.Scan(
		&acc.ID, &acc.AccountNumber, &owner, &acc.OwnerName,
		&acc.Balance, &status, &acc.IFSCCode, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.OwnerID = domain.Principal(owner)
	acc.Status = domain.AccountStatus(status)
	return &acc, nil
}

// GetActiveAccountOwnedBy loads an ACTIVE account only if owner holds it.
func (r *AccountRepository) GetActiveAccountOwnedBy(ctx context.Context, accountID int64, owner domain.Principal) (*domain.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a JOIN users u ON u.id = a.user_id
		WHERE a.id = $1 AND a.user_id = $2 AND a.status = 'ACTIVE'`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, accountID, int64(owner)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", accountID, err)
	}
	return acc, nil
}

// FindByAccountNumber resolves a destination number to an ACTIVE account.
func (r *AccountRepository) FindByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a JOIN users u ON u.id = a.user_id
		WHERE a.account_number = $1 AND a.status = 'ACTIVE'`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by number: %w", err)
	}
	return acc, nil
}

// LockForUpdate locks the rows in id order so that two transfers touching
// the same pair of accounts always queue instead of deadlocking.
func (r *AccountRepository) LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	query := `SELECT` + accountColumns + `
		FROM accounts a JOIN users u ON u.id = a.user_id
		WHERE a.id = ANY($1)
		ORDER BY a.id
		FOR UPDATE OF a`

	rows, err := r.db.Query(ctx, query, sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	locked := make(map[int64]*domain.Account, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked account: %w", err)
		}
		locked[acc.ID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	return locked, nil
}

// AdjustBalance is a guarded read-modify-write: the WHERE clause re-checks
// the floor against the row's current value, so it is safe even without a
// prior lock.
func (r *AccountRepository) AdjustBalance(ctx context.Context, accountID int64, delta, floor decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= $3
		RETURNING balance`

	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, query, accountID, delta, floor).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("failed to adjust balance of account %d: %w", accountID, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("failed to check account %d: %w", accountID, err)
	}
	if !exists {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	return decimal.Zero, domain.ErrInsufficientFunds
}

// CreateAccount opens an ACTIVE account with zero balance.
func (r *AccountRepository) CreateAccount(ctx context.Context, owner domain.Principal, number, ifsc string) (*domain.Account, error) {
	query := `
		WITH inserted AS (
			INSERT INTO accounts (account_number, user_id, ifsc_code, balance, status)
			VALUES ($1, $2, $3, 0, 'ACTIVE')
			RETURNING *
		)
		SELECT` + accountColumns + `
		FROM inserted a JOIN users u ON u.id = a.user_id`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, number, int64(owner), ifsc))
	if isUniqueViolation(err, "accounts_account_number_key") {
		return nil, domain.ErrDuplicateAccountNumber
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

var _ domain.AccountStore = (*AccountRepository)(nil)
