package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pharaohsoft/nileswap/nileswap/logger"
)

// LoggingMiddleware logs HTTP requests in a structured format
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logger.LogRequest(c.Method(), c.Path(), c.IP(), c.Response().StatusCode(), time.Since(start))

		return err
	}
}
