package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/adapter/middleware"
	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/transfer"
)

type TransactionHandler struct {
	Engine *transfer.Engine
}

// Request Models
type TransferRequest struct {
	FromAccountID   int64            `json:"from_account_id"`
	ToAccountNumber string           `json:"to_account_number"`
	ToIFSCCode      string           `json:"to_ifsc_code"`
	BeneficiaryName string           `json:"beneficiary_name"`
	Amount          *decimal.Decimal `json:"amount"`
	Description     string           `json:"description"`
}

type PostingRequest struct {
	AccountID   int64            `json:"account_id"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
}

// Transfer API
func (h *TransactionHandler) Transfer(c *fiber.Ctx) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing API Key"})
	}

	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	errs := fieldErrors{}
	if req.FromAccountID <= 0 {
		errs.add("from_account_id", "This field is required.")
	}
	req.ToAccountNumber = strings.TrimSpace(req.ToAccountNumber)
	if req.ToAccountNumber == "" {
		errs.add("to_account_number", "This field is required.")
	}
	if req.Amount == nil {
		errs.add("amount", "This field is required.")
	}
	if len(errs) > 0 {
		return badRequest(c, errs)
	}

	res, err := h.Engine.Transfer(c.UserContext(), p, transfer.Request{
		FromAccountID:   req.FromAccountID,
		ToAccountNumber: req.ToAccountNumber,
		ToIFSCCode:      strings.TrimSpace(req.ToIFSCCode),
		BeneficiaryName: strings.TrimSpace(req.BeneficiaryName),
		Amount:          *req.Amount,
		Description:     req.Description,
		IdempotencyKey:  middleware.IdempotencyKey(c),
	})
	if err != nil {
		return writeError(c, err, "from_account_id")
	}
	if res.Replayed {
		middleware.MarkReplayed(c)
	}

	body := fiber.Map{
		"message":           "Transfer completed successfully",
		"transaction_id":    res.TransactionID,
		"reference_number":  res.ReferenceNumber,
		"amount":            domain.FormatAmount(res.Amount),
		"remaining_balance": domain.FormatAmount(res.RemainingBalance),
		"transfer_type":     res.TransferType,
	}
	if res.BeneficiaryNewBalance != nil {
		body["beneficiary_new_balance"] = domain.FormatAmount(*res.BeneficiaryNewBalance)
		body["beneficiary_account"] = res.BeneficiaryAccount
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// Deposit API
func (h *TransactionHandler) Deposit(c *fiber.Ctx) error {
	return h.post(c, h.Engine.Deposit, "Deposit completed successfully")
}

// Withdraw API
func (h *TransactionHandler) Withdraw(c *fiber.Ctx) error {
	return h.post(c, h.Engine.Withdraw, "Withdrawal completed successfully")
}

type postFunc func(ctx context.Context, p domain.Principal, req transfer.PostingRequest) (*transfer.PostingResult, error)

func (h *TransactionHandler) post(c *fiber.Ctx, run postFunc, message string) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing API Key"})
	}

	var req PostingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	errs := fieldErrors{}
	if req.AccountID <= 0 {
		errs.add("account_id", "This field is required.")
	}
	if req.Amount == nil {
		errs.add("amount", "This field is required.")
	}
	if len(errs) > 0 {
		return badRequest(c, errs)
	}

	res, err := run(c.UserContext(), p, transfer.PostingRequest{
		AccountID:      req.AccountID,
		Amount:         *req.Amount,
		Description:    req.Description,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		return writeError(c, err, "account_id")
	}
	if res.Replayed {
		middleware.MarkReplayed(c)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message":          message,
		"transaction_id":   res.TransactionID,
		"reference_number": res.ReferenceNumber,
		"type":             res.Type,
		"amount":           domain.FormatAmount(res.Amount),
		"balance":          domain.FormatAmount(res.Balance),
	})
}
