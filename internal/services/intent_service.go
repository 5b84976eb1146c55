package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
	"github.com/mesh-marketplace/backend/internal/repositories"
)

type IntentService struct {
	intents *repositories.IntentRepo
	audit   *repositories.AuditRepo
	log     *zap.Logger
}

func NewIntentService(intents *repositories.IntentRepo, audit *repositories.AuditRepo, log *zap.Logger) *IntentService {
	return &IntentService{intents: intents, audit: audit, log: log}
}

func (s *IntentService) Create(ctx context.Context, userID uuid.UUID, id, title string, description *string, budgetSOL *string) (*models.Intent, error) {
	if id == "" {
		return nil, errs.Validationf("intent id is required")
	}
	if title == "" {
		return nil, errs.Validationf("intent title is required")
	}
	if budgetSOL != nil && *budgetSOL != "" {
		if _, err := chain.ToLamports(*budgetSOL); err != nil {
			return nil, err
		}
	}

	intent := &models.Intent{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      models.IntentStatusOpen,
		BudgetSOL:   budgetSOL,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "intent_created",
		EntityType:  "intent",
		EntityID:    &intent.ID,
		Meta:        map[string]any{"title": title},
	})
	return intent, nil
}

func (s *IntentService) Get(ctx context.Context, id string) (*models.Intent, error) {
	return s.intents.GetByID(ctx, id)
}

func (s *IntentService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Intent, error) {
	return s.intents.ListForUser(ctx, userID, limit, offset)
}

// Cancel closes an unfunded intent. A funded intent can only exit
// through the escrow lifecycle.
func (s *IntentService) Cancel(ctx context.Context, actorID uuid.UUID, id string) error {
	intent, err := s.intents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if intent.UserID != actorID {
		return errs.Unauthorizedf("only the intent owner can cancel intent %s", id)
	}
	if intent.EscrowFunded {
		return errs.InvalidStatef("intent %s has a funded escrow; release or refund it first", id)
	}
	if intent.Status == models.IntentStatusCancelled {
		return errs.InvalidStatef("intent %s is already cancelled", id)
	}

	if err := s.intents.SetStatus(ctx, id, models.IntentStatusCancelled); err != nil {
		return err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "intent_cancelled",
		EntityType:  "intent",
		EntityID:    &id,
	})
	return nil
}

// Match assigns the intent to an agent deal without funding it yet.
func (s *IntentService) Match(ctx context.Context, actorID uuid.UUID, id string) error {
	intent, err := s.intents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if intent.UserID != actorID {
		return errs.Unauthorizedf("only the intent owner can match intent %s", id)
	}
	if intent.Status != models.IntentStatusOpen {
		return errs.InvalidStatef("intent %s is %s, expected open", id, intent.Status)
	}

	if err := s.intents.SetStatus(ctx, id, models.IntentStatusMatched); err != nil {
		return err
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "intent_matched",
		EntityType:  "intent",
		EntityID:    &id,
	})
	return nil
}
