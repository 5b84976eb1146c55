package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/http/dto"
	"github.com/mesh-marketplace/backend/internal/middleware"
	"github.com/mesh-marketplace/backend/internal/repositories"
)

type UserHandler struct {
	userRepo   *repositories.UserRepo
	masterSeed []byte
	log        *zap.Logger
}

func NewUserHandler(userRepo *repositories.UserRepo, masterSeed []byte, log *zap.Logger) *UserHandler {
	return &UserHandler{userRepo: userRepo, masterSeed: masterSeed, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.userRepo.GetByID(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	payload := fiber.Map{"user": user}
	if len(h.masterSeed) > 0 {
		if w, err := chain.DeriveUserWallet(h.masterSeed, userID); err == nil {
			payload["custodial_wallet"] = w.PublicKey()
		}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payload})
}
