package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chatrapathi4/bluebank/internal/adapter/middleware"
)

// Register mounts the ledger routes under /transactions, all authenticated.
func Register(router fiber.Router, h *TransactionHandler, keys middleware.KeyResolver) {
	txns := router.Group("/transactions", middleware.Protected(keys), middleware.Idempotency())
	txns.Post("/transfer", h.Transfer)
	txns.Post("/deposit", h.Deposit)
	txns.Post("/withdraw", h.Withdraw)
}
