package domain

import "errors"

// Transfer validation failures. These never mutate state.
var (
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrAmountExceedsLimit   = errors.New("amount exceeds transfer limit")
	ErrInvalidSourceAccount = errors.New("invalid account selected")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrSameAccount          = errors.New("cannot transfer to the source account")
	ErrBeneficiaryRequired  = errors.New("beneficiary name is required for external transfers")
	ErrIdempotencyMismatch  = errors.New("idempotency key reused with a different request")
)

// Store level failures.
var (
	ErrAccountNotFound              = errors.New("account not found")
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrDuplicateReference           = errors.New("duplicate reference number")
	ErrDuplicateAccountNumber       = errors.New("duplicate account number")
	ErrReferenceGenerationExhausted = errors.New("could not generate a unique reference number")
	ErrInvalidStatusTransition      = errors.New("invalid transaction status transition")
	ErrIdempotencyKeyNotFound       = errors.New("idempotency key not found")
	ErrIdempotencyKeyExists         = errors.New("idempotency key already used")
	ErrAPIKeyNotFound               = errors.New("api key not found")
	ErrTimeout                      = errors.New("timed out waiting for account lock")
	ErrUnknown                      = errors.New("unexpected store failure")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAmountExceedsLimit, "amount_exceeds_limit"},
	{ErrInvalidSourceAccount, "invalid_source_account"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrSameAccount, "same_account"},
	{ErrBeneficiaryRequired, "beneficiary_required"},
	{ErrIdempotencyMismatch, "idempotency_mismatch"},
	{ErrReferenceGenerationExhausted, "reference_generation_exhausted"},
	{ErrTimeout, "timeout"},
}

// ErrorCode maps an error to a stable, machine readable code.
// nil maps to "ok" and anything unclassified to "unknown".
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "unknown"
}

// IsValidation reports whether err is a client mistake rather than a server fault.
func IsValidation(err error) bool {
	switch ErrorCode(err) {
	case "invalid_amount", "amount_exceeds_limit", "invalid_source_account",
		"insufficient_funds", "same_account", "beneficiary_required", "idempotency_mismatch":
		return true
	}
	return false
}
