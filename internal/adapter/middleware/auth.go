package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/security"
)

// PrincipalKey is the fiber Locals key holding the authenticated principal.
const PrincipalKey = "principal"

type KeyResolver interface {
	PrincipalForKey(ctx context.Context, keyHash string) (domain.Principal, error)
}

// Protected authenticates "Authorization: Bearer <key>" and stores the
// resolved principal in Locals.
func Protected(keys KeyResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing API Key"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Header Format"})
		}

		// We never compare plain text.
		p, err := keys.PrincipalForKey(c.UserContext(), security.HashAPIKey(parts[1]))
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid API Key"})
		}
		if err != nil {
			slog.Error("❌ API key lookup failed", "error", err)
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Authentication unavailable"})
		}

		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

// Principal returns the principal set by Protected.
func Principal(c *fiber.Ctx) (domain.Principal, bool) {
	p, ok := c.Locals(PrincipalKey).(domain.Principal)
	return p, ok
}
