package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/notifications"
)

// PostingRequest moves money into or out of a single account the principal owns.
type PostingRequest struct {
	AccountID      int64
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

func (r PostingRequest) fingerprint(t domain.TransactionType) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s", t, r.AccountID, domain.FormatAmount(r.Amount), r.Description)
	return hex.EncodeToString(h.Sum(nil))
}

type PostingResult struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	ReferenceNumber string          `json:"reference_number"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Balance         decimal.Decimal `json:"balance"`

	Replayed bool `json:"-"`
}

// Deposit credits the account.
func (e *Engine) Deposit(ctx context.Context, p domain.Principal, req PostingRequest) (*PostingResult, error) {
	return e.post(ctx, p, req, domain.TypeDeposit)
}

// Withdraw debits the account, never below zero.
func (e *Engine) Withdraw(ctx context.Context, p domain.Principal, req PostingRequest) (*PostingResult, error) {
	return e.post(ctx, p, req, domain.TypeWithdrawal)
}

func (e *Engine) post(ctx context.Context, p domain.Principal, req PostingRequest, kind domain.TransactionType) (*PostingResult, error) {
	operation := "deposit"
	if kind == domain.TypeWithdrawal {
		operation = "withdrawal"
	}

	start := e.now()
	res, err := e.posting(ctx, p, req, kind)
	e.finish(operation, start, err, "account_id", req.AccountID, "amount", req.Amount.String())
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		slog.Info("✅ Posting completed", "type", kind, "transaction_id", res.TransactionID, "reference", res.ReferenceNumber)
	}
	return res, nil
}

func (e *Engine) posting(ctx context.Context, p domain.Principal, req PostingRequest, kind domain.TransactionType) (*PostingResult, error) {
	if err := domain.ValidateAmount(req.Amount, e.cfg.Limit); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()

	hash := req.fingerprint(kind)
	replay := func() (*PostingResult, error) {
		res, err := replayInto[PostingResult](e, ctx, p, req.IdempotencyKey, hash)
		if res != nil {
			res.Replayed = true
		}
		return res, err
	}
	if req.IdempotencyKey != "" {
		if prior, err := replay(); err != nil || prior != nil {
			return prior, err
		}
	}

	var res *PostingResult
	var saved *domain.IdempotencyRecord
	var accountNumber string
	err := e.store.Atomically(ctx, func(uow domain.UnitOfWork) error {
		locked, err := uow.Accounts().LockForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		acc, ok := locked[req.AccountID]
		if !ok || !acc.IsActive() || acc.OwnerID != p {
			return domain.ErrInvalidSourceAccount
		}
		accountNumber = acc.AccountNumber

		delta := req.Amount
		if kind == domain.TypeWithdrawal {
			delta = delta.Neg()
		}
		balance, err := uow.Accounts().AdjustBalance(ctx, acc.ID, delta, decimal.Zero)
		if err != nil {
			return err
		}

		now := e.now()
		rec := &domain.Transaction{
			ID:              e.newID(),
			FromAccountID:   acc.ID,
			ToAccountNumber: acc.AccountNumber,
			ToIFSCCode:      acc.IFSCCode,
			BeneficiaryName: acc.OwnerName,
			Amount:          req.Amount,
			Type:            kind,
			Status:          domain.StatusPending,
			Description:     req.Description,
			Fee:             decimal.Zero,
			CreatedAt:       now,
		}
		if err := e.insert(ctx, uow.Ledger(), rec); err != nil {
			return err
		}
		if err := uow.Ledger().UpdateStatus(ctx, rec.ID, domain.StatusCompleted, now); err != nil {
			return fmt.Errorf("complete %s: %w", kind, err)
		}

		r := &PostingResult{
			TransactionID:   rec.ID,
			ReferenceNumber: rec.ReferenceNumber,
			Type:            string(kind),
			Amount:          req.Amount,
			Balance:         balance,
		}
		if req.IdempotencyKey != "" {
			if saved, err = e.remember(ctx, uow, p, req.IdempotencyKey, hash, rec.ID, r); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" {
			if prior, ok, rerr := settledElsewhere(replay); ok {
				return prior, rerr
			}
		}
		return nil, classify(err)
	}

	e.cacheRecord(ctx, saved)

	evt := notifications.Event{
		Type:            notifications.EventDepositCompleted,
		UserID:          int64(p),
		TransactionID:   res.TransactionID.String(),
		ReferenceNumber: res.ReferenceNumber,
		Amount:          domain.FormatAmount(res.Amount),
		ToAccount:       accountNumber,
		BalanceAfter:    domain.FormatAmount(res.Balance),
	}
	if kind == domain.TypeWithdrawal {
		evt.Type = notifications.EventWithdrawalCompleted
		evt.FromAccount, evt.ToAccount = accountNumber, ""
	}
	e.publish(ctx, evt)
	return res, nil
}
