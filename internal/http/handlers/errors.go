package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/http/dto"
)

// respondError maps the error taxonomy onto HTTP statuses. Unclassified
// errors become opaque 500s so internals never leak to the dashboard.
func respondError(c *fiber.Ctx, err error) error {
	var status int
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, errs.ErrDuplicate), errors.Is(err, errs.ErrInvalidState):
		status = fiber.StatusConflict
	case errors.Is(err, errs.ErrTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.Is(err, errs.ErrTransaction):
		status = fiber.StatusBadGateway
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}
