package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/http/dto"
	"github.com/mesh-marketplace/backend/internal/middleware"
	"github.com/mesh-marketplace/backend/internal/services"
)

type AgentHandler struct {
	agentService *services.AgentService
	log          *zap.Logger
}

func NewAgentHandler(agentService *services.AgentService, log *zap.Logger) *AgentHandler {
	return &AgentHandler{agentService: agentService, log: log}
}

func (h *AgentHandler) RegisterAgent(c *fiber.Ctx) error {
	var req dto.RegisterAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	userID := middleware.GetUserID(c)
	agent, err := h.agentService.Register(c.Context(), userID, req.Name, req.Description, req.WalletAddress)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: agent})
}

func (h *AgentHandler) GetAgent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agent id"})
	}

	agent, err := h.agentService.Get(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: agent})
}

func (h *AgentHandler) ListMyAgents(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit, offset := pagination(c)

	agents, err := h.agentService.ListForUser(c.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("list agents failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: agents})
}
