package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"
	idempotencyLocalsKey = "idempotency_key"
	maxIdempotencyKeyLen = 255
)

// Idempotency validates the Idempotency-Key header and hands it to the
// handler. Stored results are replayed by the ledger engine itself, inside
// the same transaction that moves the money.
func Idempotency() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// The header value aliases fiber's pooled buffer; the key outlives the request.
		key := strings.Clone(c.Get(IdempotencyHeader))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"errors": fiber.Map{"idempotency_key": []string{"Idempotency key must be at most 255 characters."}},
			})
		}

		c.Locals(idempotencyLocalsKey, key)
		if err := c.Next(); err != nil {
			return err
		}
		if string(c.Response().Header.Peek(IdempotencyHitHeader)) == "true" {
			slog.Info("🛑 Idempotency Hit! Returned stored result", "key", key)
		}
		return nil
	}
}

// IdempotencyKey returns the key captured by Idempotency, or "".
func IdempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(idempotencyLocalsKey).(string)
	return key
}

// MarkReplayed flags the response as answered from a stored result.
func MarkReplayed(c *fiber.Ctx) {
	c.Set(IdempotencyHitHeader, "true")
}
