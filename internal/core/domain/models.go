package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Principal is the authenticated user an operation runs on behalf of.
type Principal int64

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountFrozen   AccountStatus = "FROZEN"
)

// Account represents a customer's deposit account
type Account struct {
	ID            int64
	AccountNumber string
	OwnerID       Principal
	OwnerName     string
	Balance       decimal.Decimal
	Status        AccountStatus
	IFSCCode      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

type TransactionType string

const (
	TypeTransfer   TransactionType = "TRANSFER"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypePayment    TransactionType = "PAYMENT"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition may leave the status.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a record may move from s to next.
// The only legal moves are PENDING to one of the terminal states.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Transaction is one ledger row. Only Status and ProcessedAt change after
// insertion, and only once.
type Transaction struct {
	ID              uuid.UUID
	ReferenceNumber string
	FromAccountID   int64
	ToAccountID     *int64
	ToAccountNumber string
	ToIFSCCode      string
	BeneficiaryName string
	Amount          decimal.Decimal
	Type            TransactionType
	Status          TransactionStatus
	Description     string
	Fee             decimal.Decimal
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// IdempotencyRecord remembers the outcome of a request made with a client key.
type IdempotencyRecord struct {
	Owner         Principal
	Key           string
	RequestHash   string
	TransactionID uuid.UUID
	Response      []byte
	CreatedAt     time.Time
}
