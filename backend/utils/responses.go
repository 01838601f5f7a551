package utils

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pharaohsoft/nileswap/backend/models"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

// SendJSON sends a JSON response using Fiber
func SendJSON(c *fiber.Ctx, statusCode int, data interface{}) error {
	return c.Status(statusCode).JSON(data)
}

// SendSuccess sends a successful JSON response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return SendJSON(c, http.StatusOK, models.NewSuccessResponse(data, message))
}

// SendCreated sends a created resource JSON response
func SendCreated(c *fiber.Ctx, data interface{}, message string) error {
	return SendJSON(c, http.StatusCreated, models.NewSuccessResponse(data, message))
}

// SendBadRequest sends a bad request error response
func SendBadRequest(c *fiber.Ctx, message string) error {
	return SendJSON(c, http.StatusBadRequest, models.NewErrorResponse("bad_request", message))
}

// SendUnauthorized sends an unauthorized error response
func SendUnauthorized(c *fiber.Ctx, message string) error {
	return SendJSON(c, http.StatusUnauthorized, models.NewErrorResponse("unauthenticated", message))
}

// SendSwapError maps a swap core error to its HTTP shape. The kind is
// stable; the UI switches on it, not on the status code.
func SendSwapError(c *fiber.Ctx, err error) error {
	kind := swap.Kind(err)
	status := statusForKind(kind)

	msg := err.Error()
	if status >= http.StatusInternalServerError && !errors.Is(err, swap.ErrTradeIncomplete) && !errors.Is(err, swap.ErrNeedsReconciliation) {
		// Do not leak storage details to the browser.
		msg = "internal error"
	}
	return SendJSON(c, status, models.NewErrorResponse(kind, msg))
}

func statusForKind(kind string) int {
	switch kind {
	case "unauthenticated":
		return http.StatusUnauthorized
	case "not_owner":
		return http.StatusForbidden
	case "not_eligible", "invalid_card", "same_kind_forbidden", "invalid_cursor":
		return http.StatusBadRequest
	case "already_locked", "no_longer_active":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "storage_unavailable", "timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
