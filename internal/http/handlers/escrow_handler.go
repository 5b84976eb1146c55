package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/http/dto"
	"github.com/mesh-marketplace/backend/internal/middleware"
	"github.com/mesh-marketplace/backend/internal/models"
	"github.com/mesh-marketplace/backend/internal/services"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) Deposit(c *fiber.Ctx) error {
	intentID := c.Params("intentId")

	var req dto.DepositEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agent_id"})
	}
	if req.AmountSOL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount_sol is required"})
	}

	actorID := middleware.GetUserID(c)
	record, err := h.escrowService.Deposit(c.Context(), actorID, intentID, agentID, req.AmountSOL)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(record, nil)})
}

func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	record, err := h.escrowService.Release(c.Context(), actorID, c.Params("intentId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(record, nil)})
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	record, err := h.escrowService.Refund(c.Context(), actorID, c.Params("intentId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(record, nil)})
}

func (h *EscrowHandler) OpenDispute(c *fiber.Ctx) error {
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	actorID := middleware.GetUserID(c)
	dispute, err := h.escrowService.OpenDispute(c.Context(), actorID, c.Params("intentId"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

// ResolveDispute is reachable only through the arbitrator-gated route.
func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	var resolution chain.Resolution
	switch req.Resolution {
	case models.ResolutionReleaseToAgent:
		resolution = chain.ReleaseToAgent()
	case models.ResolutionRefundToOwner:
		resolution = chain.RefundToOwner()
	case models.ResolutionSplit:
		if req.AgentPercentage == nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "agent_percentage is required for split"})
		}
		var err error
		resolution, err = chain.Split(*req.AgentPercentage)
		if err != nil {
			return respondError(c, err)
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "resolution must be release_to_agent, refund_to_owner or split"})
	}

	dispute, err := h.escrowService.ResolveDispute(c.Context(), c.Params("intentId"), resolution)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	record, dispute, err := h.escrowService.GetEscrowForIntent(c.Context(), actorID, c.Params("intentId"))
	if err != nil {
		return respondError(c, err)
	}
	if record == nil {
		// Intent exists but was never funded
		return c.JSON(dto.SuccessResponse{OK: true})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(record, dispute)})
}

func (h *EscrowHandler) GetAuditTrail(c *fiber.Ctx) error {
	actorID := middleware.GetUserID(c)
	limit, offset := pagination(c)
	entries, err := h.escrowService.GetAuditTrail(c.Context(), actorID, c.Params("intentId"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	records, err := h.escrowService.ListEscrowsForUser(c.Context(), userID)
	if err != nil {
		h.log.Error("list escrows failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowListResponse(records)})
}
