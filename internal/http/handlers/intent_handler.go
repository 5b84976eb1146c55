package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/http/dto"
	"github.com/mesh-marketplace/backend/internal/middleware"
	"github.com/mesh-marketplace/backend/internal/services"
)

type IntentHandler struct {
	intentService *services.IntentService
	log           *zap.Logger
}

func NewIntentHandler(intentService *services.IntentService, log *zap.Logger) *IntentHandler {
	return &IntentHandler{intentService: intentService, log: log}
}

func (h *IntentHandler) CreateIntent(c *fiber.Ctx) error {
	var req dto.CreateIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	userID := middleware.GetUserID(c)
	intent, err := h.intentService.Create(c.Context(), userID, req.ID, req.Title, req.Description, req.BudgetSOL)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: intent})
}

func (h *IntentHandler) GetIntent(c *fiber.Ctx) error {
	intent, err := h.intentService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: intent})
}

func (h *IntentHandler) ListIntents(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit, offset := pagination(c)

	intents, err := h.intentService.ListForUser(c.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("list intents failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: intents})
}

func (h *IntentHandler) MatchIntent(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	if err := h.intentService.Match(c.Context(), actorID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *IntentHandler) CancelIntent(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	if err := h.intentService.Cancel(c.Context(), actorID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit, offset = 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
