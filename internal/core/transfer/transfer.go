package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/notifications"
)

type Classification string

const (
	Internal Classification = "Internal"
	External Classification = "External"
)

// Request asks to move Amount out of FromAccountID to ToAccountNumber.
type Request struct {
	FromAccountID   int64
	ToAccountNumber string
	ToIFSCCode      string
	BeneficiaryName string
	Amount          decimal.Decimal
	Description     string
	// IdempotencyKey is optional. A repeat within the retention window
	// returns the first result instead of moving money again.
	IdempotencyKey string
}

func (r Request) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s\x00%s\x00%s\x00%s",
		r.FromAccountID, r.ToAccountNumber, r.ToIFSCCode, r.BeneficiaryName,
		domain.FormatAmount(r.Amount), r.Description)
	return hex.EncodeToString(h.Sum(nil))
}

// Result is the settlement summary of a completed transfer.
type Result struct {
	TransactionID         uuid.UUID        `json:"transaction_id"`
	ReferenceNumber       string           `json:"reference_number"`
	Amount                decimal.Decimal  `json:"amount"`
	RemainingBalance      decimal.Decimal  `json:"remaining_balance"`
	TransferType          Classification   `json:"transfer_type"`
	BeneficiaryNewBalance *decimal.Decimal `json:"beneficiary_new_balance,omitempty"`
	BeneficiaryAccount    string           `json:"beneficiary_account,omitempty"`

	// Replayed is set when the result was answered from an earlier request
	// with the same idempotency key.
	Replayed bool `json:"-"`
}

// Transfer debits the principal's source account and, when the destination
// number belongs to an ACTIVE account in this ledger, credits it. Either
// every write commits or none does.
func (e *Engine) Transfer(ctx context.Context, p domain.Principal, req Request) (*Result, error) {
	start := e.now()
	res, err := e.transfer(ctx, p, req)
	e.finish("transfer", start, err, "from_account_id", req.FromAccountID, "amount", req.Amount.String())
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		slog.Info("✅ Transfer completed",
			"transaction_id", res.TransactionID,
			"reference", res.ReferenceNumber,
			"transfer_type", res.TransferType,
		)
	}
	return res, nil
}

func (e *Engine) transfer(ctx context.Context, p domain.Principal, req Request) (*Result, error) {
	if err := domain.ValidateAmount(req.Amount, e.cfg.Limit); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()

	hash := req.fingerprint()
	if req.IdempotencyKey != "" {
		if prior, err := e.replay(ctx, p, req.IdempotencyKey, hash); err != nil || prior != nil {
			return prior, err
		}
	}

	res, source, saved, err := e.execute(ctx, p, req, hash)
	if err != nil {
		if req.IdempotencyKey != "" {
			replay := func() (*Result, error) { return e.replay(ctx, p, req.IdempotencyKey, hash) }
			if prior, ok, rerr := settledElsewhere(replay); ok {
				return prior, rerr
			}
		}
		return nil, err
	}

	e.cacheRecord(ctx, saved)

	evt := notifications.Event{
		Type:            notifications.EventTransferCompleted,
		UserID:          int64(p),
		TransactionID:   res.TransactionID.String(),
		ReferenceNumber: res.ReferenceNumber,
		Amount:          domain.FormatAmount(res.Amount),
		FromAccount:     source.AccountNumber,
		ToAccount:       req.ToAccountNumber,
		TransferType:    string(res.TransferType),
		BalanceAfter:    domain.FormatAmount(res.RemainingBalance),
	}
	e.publish(ctx, evt)
	return res, nil
}

// execute checks the source account and runs the atomic section.
func (e *Engine) execute(ctx context.Context, p domain.Principal, req Request, hash string) (*Result, *domain.Account, *domain.IdempotencyRecord, error) {
	source, err := e.store.Accounts().GetActiveAccountOwnedBy(ctx, req.FromAccountID, p)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, nil, nil, domain.ErrInvalidSourceAccount
	}
	if err != nil {
		return nil, nil, nil, classify(err)
	}
	if source.AccountNumber == req.ToAccountNumber {
		return nil, nil, nil, domain.ErrSameAccount
	}
	if source.Balance.LessThan(req.Amount) {
		return nil, nil, nil, domain.ErrInsufficientFunds
	}

	var res *Result
	var saved *domain.IdempotencyRecord
	err = e.store.Atomically(ctx, func(uow domain.UnitOfWork) error {
		r, err := e.settle(ctx, uow, p, source, req)
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if saved, err = e.remember(ctx, uow, p, req.IdempotencyKey, hash, r.TransactionID, r); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, nil, nil, classify(err)
	}
	return res, source, saved, nil
}

// settle is the atomic section of a transfer.
func (e *Engine) settle(ctx context.Context, uow domain.UnitOfWork, p domain.Principal, source *domain.Account, req Request) (*Result, error) {
	accounts, ledger := uow.Accounts(), uow.Ledger()

	dest, err := accounts.FindByAccountNumber(ctx, req.ToAccountNumber)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	ids := []int64{source.ID}
	if dest != nil {
		ids = append(ids, dest.ID)
	}
	locked, err := accounts.LockForUpdate(ctx, ids...)
	if err != nil {
		return nil, err
	}

	// Re-read under lock: status may have changed since validation.
	src, ok := locked[source.ID]
	if !ok || !src.IsActive() || src.OwnerID != p {
		return nil, domain.ErrInvalidSourceAccount
	}
	if dest != nil {
		if d, ok := locked[dest.ID]; ok && d.IsActive() {
			dest = d
		} else {
			dest = nil
		}
	}
	if dest == nil && strings.TrimSpace(req.BeneficiaryName) == "" {
		return nil, domain.ErrBeneficiaryRequired
	}

	now := e.now()
	rec := &domain.Transaction{
		ID:              e.newID(),
		FromAccountID:   src.ID,
		ToAccountNumber: req.ToAccountNumber,
		ToIFSCCode:      req.ToIFSCCode,
		BeneficiaryName: req.BeneficiaryName,
		Amount:          req.Amount,
		Type:            domain.TypeTransfer,
		Status:          domain.StatusPending,
		Description:     req.Description,
		Fee:             decimal.Zero,
		CreatedAt:       now,
	}
	if dest != nil {
		destID := dest.ID
		rec.ToAccountID = &destID
	}
	if err := e.insert(ctx, ledger, rec); err != nil {
		return nil, err
	}

	remaining, err := accounts.AdjustBalance(ctx, src.ID, req.Amount.Neg(), decimal.Zero)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TransactionID:    rec.ID,
		ReferenceNumber:  rec.ReferenceNumber,
		Amount:           req.Amount,
		RemainingBalance: remaining,
		TransferType:     External,
	}

	if dest != nil {
		credited, err := accounts.AdjustBalance(ctx, dest.ID, req.Amount, decimal.Zero)
		if err != nil {
			return nil, fmt.Errorf("credit account %d: %w", dest.ID, err)
		}
		if err := e.recordCredit(ctx, ledger, src, dest, rec); err != nil {
			return nil, err
		}
		res.TransferType = Internal
		res.BeneficiaryNewBalance = &credited
		res.BeneficiaryAccount = dest.AccountNumber
	}

	if err := ledger.UpdateStatus(ctx, rec.ID, domain.StatusCompleted, now); err != nil {
		return nil, fmt.Errorf("complete transfer: %w", err)
	}
	return res, nil
}

// recordCredit writes the recipient's view of an internal transfer: a
// DEPOSIT row anchored at the destination, pointing back at the source.
func (e *Engine) recordCredit(ctx context.Context, ledger domain.Ledger, src, dest *domain.Account, debit *domain.Transaction) error {
	srcID := src.ID
	description := "Credit from " + src.AccountNumber
	if debit.Description != "" {
		description += " - " + debit.Description
	}

	credit := &domain.Transaction{
		ID:              e.newID(),
		ReferenceNumber: domain.MirrorReference(debit.ReferenceNumber),
		FromAccountID:   dest.ID,
		ToAccountID:     &srcID,
		ToAccountNumber: src.AccountNumber,
		ToIFSCCode:      src.IFSCCode,
		BeneficiaryName: src.OwnerName,
		Amount:          debit.Amount,
		Type:            domain.TypeDeposit,
		Status:          domain.StatusPending,
		Description:     description,
		Fee:             decimal.Zero,
		CreatedAt:       debit.CreatedAt,
	}
	if err := ledger.Insert(ctx, credit); err != nil {
		return fmt.Errorf("insert credit record: %w", err)
	}
	if err := ledger.UpdateStatus(ctx, credit.ID, domain.StatusCompleted, debit.CreatedAt); err != nil {
		return fmt.Errorf("complete credit record: %w", err)
	}
	return nil
}
