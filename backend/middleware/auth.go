package middleware

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/pharaohsoft/nileswap/backend/utils"
)

const playerIDKey = "player_id"

// SessionValidator resolves a session token to a player id.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// AuthRequired resolves the caller from the X-Session-Token header and
// stores the player id in the request context.
func AuthRequired(sessions SessionValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Session-Token")
		if token == "" {
			token = c.Cookies("session_token")
		}

		playerID, err := sessions.Validate(c.Context(), token)
		if err != nil {
			slog.Debug("Auth required: no valid session",
				slog.String("type", "http"),
				slog.String("path", c.Path()))
			return utils.SendUnauthorized(c, "valid session required")
		}

		c.Locals(playerIDKey, playerID)
		return c.Next()
	}
}

// PlayerID returns the authenticated player for this request. Empty
// string means AuthRequired did not run.
func PlayerID(c *fiber.Ctx) string {
	id, _ := c.Locals(playerIDKey).(string)
	return id
}
