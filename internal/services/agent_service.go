package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/btcsuite/btcutil/base58"
	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
	"github.com/mesh-marketplace/backend/internal/repositories"
)

type AgentService struct {
	agents *repositories.AgentRepo
	audit  *repositories.AuditRepo
	log    *zap.Logger
}

func NewAgentService(agents *repositories.AgentRepo, audit *repositories.AuditRepo, log *zap.Logger) *AgentService {
	return &AgentService{agents: agents, audit: audit, log: log}
}

func (s *AgentService) Register(ctx context.Context, userID uuid.UUID, name string, description *string, walletAddress string) (*models.Agent, error) {
	if name == "" {
		return nil, errs.Validationf("agent name is required")
	}
	if walletAddress == "" {
		return nil, errs.Validationf("agent wallet address is required")
	}
	if len(base58.Decode(walletAddress)) == 0 {
		return nil, errs.Validationf("agent wallet address %q is not valid base58", walletAddress)
	}

	agent := &models.Agent{
		UserID:        userID,
		Name:          name,
		Description:   description,
		WalletAddress: walletAddress,
		Status:        models.AgentStatusActive,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}

	agentID := agent.ID.String()
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "agent_registered",
		EntityType:  "agent",
		EntityID:    &agentID,
		Meta:        map[string]any{"name": name, "wallet_address": walletAddress},
	})
	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.agents.GetByID(ctx, id)
}

func (s *AgentService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Agent, error) {
	return s.agents.ListForUser(ctx, userID, limit, offset)
}
