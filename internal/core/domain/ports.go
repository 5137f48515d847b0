package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStore reads accounts and mutates balances.
type AccountStore interface {
	// GetActiveAccountOwnedBy returns ErrAccountNotFound when the account is
	// missing, owned by someone else or not ACTIVE.
	GetActiveAccountOwnedBy(ctx context.Context, accountID int64, owner Principal) (*Account, error)
	// FindByAccountNumber resolves ACTIVE accounts only.
	FindByAccountNumber(ctx context.Context, number string) (*Account, error)
	// LockForUpdate takes exclusive row locks in ascending id order and
	// returns the locked rows keyed by id. Missing ids are simply absent.
	LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*Account, error)
	// AdjustBalance applies balance += delta and returns the new balance.
	// It fails with ErrInsufficientFunds if the result would drop below floor.
	AdjustBalance(ctx context.Context, accountID int64, delta, floor decimal.Decimal) (decimal.Decimal, error)
}

// Ledger stores transaction records.
type Ledger interface {
	// Insert stores a PENDING record. A reference collision yields ErrDuplicateReference.
	Insert(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// ListForAccounts returns records anchored at any of accountIDs created
	// at or after since, newest first.
	ListForAccounts(ctx context.Context, accountIDs []int64, since time.Time) ([]*Transaction, error)
	// UpdateStatus moves a PENDING record to a terminal status exactly once.
	UpdateStatus(ctx context.Context, id uuid.UUID, status TransactionStatus, processedAt time.Time) error
}

// IdempotencyStore persists client idempotency keys.
type IdempotencyStore interface {
	// Find returns the record for owner/key created at or after notBefore.
	Find(ctx context.Context, owner Principal, key string, notBefore time.Time) (*IdempotencyRecord, error)
	// Save stores rec, replacing a record older than expiredBefore.
	// A live record for the same owner/key yields ErrIdempotencyKeyExists.
	Save(ctx context.Context, rec *IdempotencyRecord, expiredBefore time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UnitOfWork exposes the stores bound to one atomic section.
type UnitOfWork interface {
	Accounts() AccountStore
	Ledger() Ledger
	Idempotency() IdempotencyStore
}

// Store is the datastore. Calls made directly on it run outside any atomic
// section; Atomically commits everything fn does, or nothing if fn fails.
type Store interface {
	UnitOfWork
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// Directory manages owners, their API keys and account opening.
type Directory interface {
	CreateUser(ctx context.Context, firstName, lastName string) (Principal, error)
	SaveAPIKey(ctx context.Context, owner Principal, keyHash, keyPrefix string) error
	PrincipalForKey(ctx context.Context, keyHash string) (Principal, error)
	// CreateAccount opens an ACTIVE zero-balance account. A number collision
	// yields ErrDuplicateAccountNumber.
	CreateAccount(ctx context.Context, owner Principal, number, ifsc string) (*Account, error)
}
