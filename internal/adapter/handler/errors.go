package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// RequestIDKey is the Locals key the requestid middleware writes to.
const RequestIDKey = "request_id"

// fieldErrors is the 400 body: field name to messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

func badRequest(c *fiber.Ctx, errs fieldErrors) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"errors": errs})
}

// validationFields says which request field a rejected operation blames.
var validationFields = map[string]struct{ field, msg string }{
	"invalid_amount":         {"amount", "Amount must be greater than 0 with at most 2 decimal places."},
	"amount_exceeds_limit":   {"amount", "Amount exceeds transfer limit."},
	"invalid_source_account": {"from_account_id", "Invalid account selected."},
	"insufficient_funds":     {"amount", "Insufficient balance."},
	"same_account":           {"to_account_number", "Cannot transfer to the source account."},
	"beneficiary_required":   {"beneficiary_name", "Beneficiary name is required for external transfers."},
	"idempotency_mismatch":   {"idempotency_key", "Idempotency key was already used for a different request."},
}

// writeError renders an engine error. Validation failures name the field;
// server faults expose only the request id.
func writeError(c *fiber.Ctx, err error, accountField string) error {
	code := domain.ErrorCode(err)
	if v, ok := validationFields[code]; ok {
		field := v.field
		if field == "from_account_id" {
			field = accountField
		}
		errs := fieldErrors{}
		errs.add(field, v.msg)
		return badRequest(c, errs)
	}

	requestID, _ := c.Locals(RequestIDKey).(string)
	status := http.StatusInternalServerError
	msg := "Transfer could not be completed"
	if code == "timeout" {
		status = http.StatusServiceUnavailable
		msg = "Account is busy, please retry"
	}
	slog.Error("❌ Request failed", "error", err, "code", code, "request_id", requestID, "path", c.Path())
	return c.Status(status).JSON(fiber.Map{"error": msg, "request_id": requestID})
}
