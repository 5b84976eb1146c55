package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/events"
	"github.com/mesh-marketplace/backend/internal/models"
)

// Store interfaces are satisfied by the repositories package; tests
// substitute in-memory fakes.

type EscrowStore interface {
	Create(ctx context.Context, e *models.EscrowRecord) error
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string, signature *string) error
	GetByIntentID(ctx context.Context, intentID string) (*models.EscrowRecord, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EscrowRecord, error)
	ListNonTerminal(ctx context.Context, limit int) ([]models.EscrowRecord, error)
}

type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByIntentID(ctx context.Context, intentID string) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string, agentPercentage *int, signature string) error
}

type IntentStore interface {
	GetByID(ctx context.Context, id string) (*models.Intent, error)
	SetEscrowFunded(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status string) error
}

type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetByWalletAddress(ctx context.Context, walletAddress string) (*models.Agent, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

// Notifier delivers a notification to a user. Implementations never
// return an error: delivery is best-effort and must not affect the
// outcome of the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message, typ string, metadata map[string]any)
}

// EscrowService orchestrates the escrow lifecycle: chain first, then
// the record mirror. Funds state lives on chain; every workflow submits
// the transaction before touching Postgres, so a crash between the two
// leaves a reconciliation gap rather than a phantom balance.
type EscrowService struct {
	escrows    EscrowStore
	disputes   DisputeStore
	intents    IntentStore
	agents     AgentStore
	audit      AuditStore
	notifier   Notifier
	client     chain.Client
	publisher  events.Publisher
	masterSeed []byte
	arbitrator chain.Wallet
	log        *zap.Logger
}

func NewEscrowService(
	escrows EscrowStore,
	disputes DisputeStore,
	intents IntentStore,
	agents AgentStore,
	audit AuditStore,
	notifier Notifier,
	client chain.Client,
	publisher events.Publisher,
	masterSeed []byte,
	arbitrator chain.Wallet,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrows:    escrows,
		disputes:   disputes,
		intents:    intents,
		agents:     agents,
		audit:      audit,
		notifier:   notifier,
		client:     client,
		publisher:  publisher,
		masterSeed: masterSeed,
		arbitrator: arbitrator,
		log:        log,
	}
}

func (s *EscrowService) walletFor(userID uuid.UUID) (chain.Wallet, error) {
	w, err := chain.DeriveUserWallet(s.masterSeed, userID)
	if err != nil {
		return nil, fmt.Errorf("derive wallet for user %s: %w", userID, err)
	}
	return w, nil
}

// Deposit funds an escrow for the intent toward the given agent. The
// amount is a decimal SOL string; conversion floors to lamports.
func (s *EscrowService) Deposit(ctx context.Context, actorID uuid.UUID, intentID string, agentID uuid.UUID, amountSOL string) (*models.EscrowRecord, error) {
	lamports, err := chain.ToLamports(amountSOL)
	if err != nil {
		return nil, err
	}
	if lamports <= 0 {
		return nil, errs.Validationf("deposit amount must be positive, got %s SOL", amountSOL)
	}

	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != actorID {
		return nil, errs.Unauthorizedf("only the intent owner can fund escrow for intent %s", intentID)
	}
	if intent.Status == models.IntentStatusCancelled {
		return nil, errs.InvalidStatef("intent %s is cancelled", intentID)
	}

	existing, err := s.escrows.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Duplicatef("escrow already exists for intent %s", intentID)
	}

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletFor(actorID)
	if err != nil {
		return nil, err
	}

	res, err := s.client.InitializeEscrow(ctx, wallet, intentID, lamports, agent.WalletAddress)
	if err != nil {
		return nil, err
	}

	record := &models.EscrowRecord{
		IntentID:         intentID,
		AgentID:          agentID,
		EscrowAddress:    res.EscrowAddress,
		AmountLamports:   lamports,
		Status:           models.EscrowStatusActive,
		DepositSignature: res.Signature,
	}
	if err := s.escrows.Create(ctx, record); err != nil {
		// Funds are in custody but the mirror write failed. Leave a
		// trail the reconciler can replay, then surface the failure.
		s.log.Error("escrow record write failed after confirmed deposit",
			zap.String("intent_id", intentID),
			zap.String("signature", res.Signature),
			zap.Int64("lamports", lamports),
			zap.Error(err),
		)
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &actorID,
			ActorType:   "system",
			Action:      "escrow_reconciliation_gap",
			EntityType:  "escrow",
			EntityID:    &intentID,
			Meta: map[string]any{
				"intent_id":      intentID,
				"signature":      res.Signature,
				"lamports":       lamports,
				"escrow_address": res.EscrowAddress,
			},
		})
		return nil, errs.Transactionf("deposit confirmed on chain but record write failed for intent %s", intentID)
	}

	if err := s.intents.SetEscrowFunded(ctx, intentID); err != nil {
		s.log.Warn("failed to flag intent as funded", zap.String("intent_id", intentID), zap.Error(err))
	}

	s.logAndPublish(ctx, &actorID, "user", "escrow_deposited", record, map[string]any{
		"lamports":  lamports,
		"signature": res.Signature,
	})
	s.notifier.Notify(ctx, agent.UserID,
		"Escrow funded",
		fmt.Sprintf("Intent %s funded %s SOL into escrow for agent %s", intentID, chain.FormatLamports(lamports), agent.Name),
		models.NotificationEscrowDeposited,
		map[string]any{"intent_id": intentID, "lamports": lamports},
	)

	return record, nil
}

// Release pays the escrowed amount to the agent. Only the intent owner
// may release, and only from the active state.
func (s *EscrowService) Release(ctx context.Context, actorID uuid.UUID, intentID string) (*models.EscrowRecord, error) {
	record, intent, err := s.loadFunded(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != actorID {
		return nil, errs.Unauthorizedf("only the intent owner can release escrow for intent %s", intentID)
	}
	if !models.IsEscrowOpAllowed(record.Status, models.EscrowOpRelease) {
		return nil, errs.InvalidStatef("cannot release escrow in status %s", record.Status)
	}

	wallet, err := s.walletFor(actorID)
	if err != nil {
		return nil, err
	}
	sig, err := s.client.ReleaseFunds(ctx, wallet, intentID)
	if err != nil {
		s.maybeSync(ctx, record, err)
		return nil, err
	}

	if err := s.escrows.UpdateStatus(ctx, record.ID, models.EscrowStatusCompleted, &sig); err != nil {
		return nil, err
	}
	record.Status = models.EscrowStatusCompleted
	record.ReleaseSignature = &sig

	if err := s.intents.SetStatus(ctx, intentID, models.IntentStatusPaid); err != nil {
		s.log.Warn("failed to mark intent paid", zap.String("intent_id", intentID), zap.Error(err))
	}

	s.logAndPublish(ctx, &actorID, "user", "escrow_released", record, map[string]any{"signature": sig})

	// Both sides hear about the payout.
	msg := fmt.Sprintf("Escrow for intent %s released: %s SOL paid out", intentID, chain.FormatLamports(record.AmountLamports))
	s.notifier.Notify(ctx, intent.UserID, "Escrow released", msg, models.NotificationEscrowReleased,
		map[string]any{"intent_id": intentID})
	s.notifyAgentOwner(ctx, record, "Escrow released", msg, models.NotificationEscrowReleased)
	return record, nil
}

// Refund returns the escrowed amount to the intent owner. The owner can
// refund from active or disputed; the arbitrator path goes through
// ResolveDispute.
func (s *EscrowService) Refund(ctx context.Context, actorID uuid.UUID, intentID string) (*models.EscrowRecord, error) {
	record, intent, err := s.loadFunded(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != actorID {
		return nil, errs.Unauthorizedf("only the intent owner can refund escrow for intent %s", intentID)
	}
	if !models.IsEscrowOpAllowed(record.Status, models.EscrowOpRefund) {
		return nil, errs.InvalidStatef("cannot refund escrow in status %s", record.Status)
	}

	wallet, err := s.walletFor(actorID)
	if err != nil {
		return nil, err
	}
	sig, err := s.client.RefundEscrow(ctx, wallet, intentID)
	if err != nil {
		s.maybeSync(ctx, record, err)
		return nil, err
	}

	if err := s.escrows.UpdateStatus(ctx, record.ID, models.EscrowStatusRefunded, &sig); err != nil {
		return nil, err
	}
	record.Status = models.EscrowStatusRefunded
	record.RefundSignature = &sig

	s.logAndPublish(ctx, &actorID, "user", "escrow_refunded", record, map[string]any{"signature": sig})
	s.notifyAgentOwner(ctx, record,
		"Escrow refunded",
		fmt.Sprintf("Escrow for intent %s was refunded to the owner", intentID),
		models.NotificationEscrowRefunded,
	)
	return record, nil
}

// OpenDispute files a dispute against a funded escrow. Either side of
// the deal may open one: the intent owner or the agent's owner.
func (s *EscrowService) OpenDispute(ctx context.Context, actorID uuid.UUID, intentID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, errs.Validationf("dispute reason is required")
	}

	record, intent, err := s.loadFunded(ctx, intentID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.GetByID(ctx, record.AgentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != actorID && agent.UserID != actorID {
		return nil, errs.Unauthorizedf("only the intent owner or the agent owner can dispute intent %s", intentID)
	}
	if !models.IsEscrowOpAllowed(record.Status, models.EscrowOpDispute) {
		return nil, errs.InvalidStatef("cannot dispute escrow in status %s", record.Status)
	}
	if existing, err := s.disputes.GetByIntentID(ctx, intentID); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == models.DisputeStatusOpen {
		return nil, errs.Duplicatef("an open dispute already exists for intent %s", intentID)
	}

	wallet, err := s.walletFor(actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.client.CreateDispute(ctx, wallet, intentID, reason)
	if err != nil {
		s.maybeSync(ctx, record, err)
		return nil, err
	}

	dispute := &models.Dispute{
		EscrowID:       record.ID,
		IntentID:       intentID,
		DisputeAddress: res.DisputeAddress,
		DisputerUserID: actorID,
		Reason:         reason,
		Status:         models.DisputeStatusOpen,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, err
	}
	if err := s.escrows.UpdateStatus(ctx, record.ID, models.EscrowStatusDisputed, nil); err != nil {
		return nil, err
	}
	record.Status = models.EscrowStatusDisputed

	s.logAndPublish(ctx, &actorID, "user", "dispute_opened", record, map[string]any{
		"dispute_id": dispute.ID.String(),
		"reason":     reason,
		"signature":  res.Signature,
	})

	// Notify whichever side did not file.
	counterparty := intent.UserID
	if actorID == intent.UserID {
		counterparty = agent.UserID
	}
	s.notifier.Notify(ctx, counterparty,
		"Dispute opened",
		fmt.Sprintf("A dispute was opened on intent %s: %s", intentID, reason),
		models.NotificationDisputeOpened,
		map[string]any{"intent_id": intentID, "dispute_id": dispute.ID.String()},
	)
	return dispute, nil
}

// ResolveDispute settles an open dispute with the arbitrator key. The
// caller is responsible for gating access to this entry point; the
// program additionally rejects any signer but the arbitrator.
func (s *EscrowService) ResolveDispute(ctx context.Context, intentID string, resolution chain.Resolution) (*models.Dispute, error) {
	record, _, err := s.loadFunded(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !models.IsEscrowOpAllowed(record.Status, models.EscrowOpResolve) {
		return nil, errs.InvalidStatef("cannot resolve escrow in status %s", record.Status)
	}
	dispute, err := s.disputes.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if dispute == nil || dispute.Status != models.DisputeStatusOpen {
		return nil, errs.InvalidStatef("no open dispute for intent %s", intentID)
	}

	sig, err := s.client.ResolveDispute(ctx, s.arbitrator, intentID, resolution)
	if err != nil {
		s.maybeSync(ctx, record, err)
		return nil, err
	}

	var agentPct *int
	finalStatus := ""
	switch resolution.Kind() {
	case chain.ResolutionReleaseToAgent:
		finalStatus = models.EscrowStatusCompleted
	case chain.ResolutionRefundToOwner:
		finalStatus = models.EscrowStatusRefunded
	case chain.ResolutionSplit:
		finalStatus = models.EscrowStatusSplit
		pct := resolution.AgentPercentage()
		agentPct = &pct
	}

	if err := s.disputes.Resolve(ctx, dispute.ID, resolution.String(), agentPct, sig); err != nil {
		return nil, err
	}
	if err := s.escrows.UpdateStatus(ctx, record.ID, finalStatus, &sig); err != nil {
		return nil, err
	}
	record.Status = finalStatus

	resStr := resolution.String()
	dispute.Status = models.DisputeStatusResolved
	dispute.Resolution = &resStr
	dispute.AgentPercentage = agentPct
	dispute.ResolveSignature = &sig

	s.logAndPublish(ctx, nil, "arbitrator", "dispute_resolved", record, map[string]any{
		"dispute_id": dispute.ID.String(),
		"resolution": resStr,
		"signature":  sig,
	})

	// Both sides hear about the outcome.
	msg := fmt.Sprintf("Dispute on intent %s resolved: %s", intentID, resStr)
	if resolution.Kind() == chain.ResolutionSplit {
		agentShare, ownerShare, splitErr := chain.SplitLamports(record.AmountLamports, resolution.AgentPercentage())
		if splitErr == nil {
			msg = fmt.Sprintf("Dispute on intent %s resolved: split %s SOL to agent, %s SOL back to owner",
				intentID, chain.FormatLamports(agentShare), chain.FormatLamports(ownerShare))
		}
	}
	intent, err := s.intents.GetByID(ctx, intentID)
	if err == nil {
		s.notifier.Notify(ctx, intent.UserID, "Dispute resolved", msg, models.NotificationDisputeResolved,
			map[string]any{"intent_id": intentID, "resolution": resStr})
	}
	s.notifyAgentOwner(ctx, record, "Dispute resolved", msg, models.NotificationDisputeResolved)

	return dispute, nil
}

// GetEscrowForIntent returns the record plus its latest dispute, if
// any. A nil record with nil error means the intent exists but was
// never funded. Visible only to the two parties of the deal.
func (s *EscrowService) GetEscrowForIntent(ctx context.Context, actorID uuid.UUID, intentID string) (*models.EscrowRecord, *models.Dispute, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	record, err := s.escrows.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		// Never funded: there is no agent side yet, so only the
		// intent owner can tell.
		if intent.UserID != actorID {
			return nil, nil, errs.Unauthorizedf("escrow for intent %s is not visible to this user", intentID)
		}
		return nil, nil, nil
	}
	agent, err := s.agents.GetByID(ctx, record.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if intent.UserID != actorID && agent.UserID != actorID {
		return nil, nil, errs.Unauthorizedf("escrow for intent %s is not visible to this user", intentID)
	}
	dispute, err := s.disputes.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	return record, dispute, nil
}

func (s *EscrowService) ListEscrowsForUser(ctx context.Context, userID uuid.UUID) ([]models.EscrowRecord, error) {
	return s.escrows.ListForUser(ctx, userID)
}

// GetAuditTrail returns the escrow audit history for an intent, under
// the same party-only visibility as the escrow itself.
func (s *EscrowService) GetAuditTrail(ctx context.Context, actorID uuid.UUID, intentID string, limit, offset int) ([]models.AuditLog, error) {
	if _, _, err := s.GetEscrowForIntent(ctx, actorID, intentID); err != nil {
		return nil, err
	}
	return s.audit.GetByEntity(ctx, "escrow", intentID, limit, offset)
}

// Reconcile compares one record against chain state and adopts the
// chain's answer on divergence. Chain is authoritative; the mirror only
// ever catches up.
func (s *EscrowService) Reconcile(ctx context.Context, record *models.EscrowRecord) (bool, error) {
	state, err := s.client.GetEscrowData(ctx, record.IntentID)
	if err != nil {
		return false, err
	}
	if state.Status == record.Status {
		return false, nil
	}

	if err := s.escrows.UpdateStatus(ctx, record.ID, state.Status, nil); err != nil {
		return false, err
	}
	s.log.Info("reconciled escrow record from chain",
		zap.String("intent_id", record.IntentID),
		zap.String("db_status", record.Status),
		zap.String("chain_status", state.Status),
	)
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_reconciled",
		EntityType: "escrow",
		EntityID:   &record.IntentID,
		Meta:       map[string]any{"from": record.Status, "to": state.Status},
	})
	record.Status = state.Status
	return true, nil
}

// BackfillFromChain rebuilds a missing record from chain state, used by
// the reconciler against reconciliation-gap audit entries.
func (s *EscrowService) BackfillFromChain(ctx context.Context, intentID, depositSignature string) (*models.EscrowRecord, error) {
	existing, err := s.escrows.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	state, err := s.client.GetEscrowData(ctx, intentID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.GetByWalletAddress(ctx, state.Agent)
	if err != nil {
		return nil, err
	}

	record := &models.EscrowRecord{
		IntentID:         intentID,
		AgentID:          agent.ID,
		EscrowAddress:    state.Address,
		AmountLamports:   state.Lamports,
		Status:           state.Status,
		DepositSignature: depositSignature,
	}
	if err := s.escrows.Create(ctx, record); err != nil {
		return nil, err
	}
	if err := s.intents.SetEscrowFunded(ctx, intentID); err != nil {
		s.log.Warn("failed to flag intent as funded during backfill", zap.String("intent_id", intentID), zap.Error(err))
	}

	s.log.Info("backfilled escrow record from chain", zap.String("intent_id", intentID))
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_backfilled",
		EntityType: "escrow",
		EntityID:   &intentID,
		Meta:       map[string]any{"signature": depositSignature, "lamports": state.Lamports},
	})
	return record, nil
}

func (s *EscrowService) ListNonTerminal(ctx context.Context, limit int) ([]models.EscrowRecord, error) {
	return s.escrows.ListNonTerminal(ctx, limit)
}

// --- helpers ---

// loadFunded fetches the record and its intent, failing with NotFound
// when the intent was never funded.
func (s *EscrowService) loadFunded(ctx context.Context, intentID string) (*models.EscrowRecord, *models.Intent, error) {
	record, err := s.escrows.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, errs.NotFoundf("no escrow for intent %s", intentID)
	}
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	return record, intent, nil
}

// maybeSync re-reads chain state after an invalid-state rejection so a
// stale mirror heals on the next read instead of waiting for the
// reconciler.
func (s *EscrowService) maybeSync(ctx context.Context, record *models.EscrowRecord, opErr error) {
	if !errors.Is(opErr, errs.ErrInvalidState) {
		return
	}
	if _, err := s.Reconcile(ctx, record); err != nil {
		s.log.Warn("post-rejection reconcile failed",
			zap.String("intent_id", record.IntentID), zap.Error(err))
	}
}

func (s *EscrowService) logAndPublish(ctx context.Context, actorID *uuid.UUID, actorType, action string, record *models.EscrowRecord, meta map[string]any) {
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "escrow",
		EntityID:    &record.IntentID,
		Meta:        meta,
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"intent_id": record.IntentID,
			"escrow_id": record.ID.String(),
			"status":    record.Status,
			"action":    action,
		},
	})
}

func (s *EscrowService) notifyAgentOwner(ctx context.Context, record *models.EscrowRecord, title, message, typ string) {
	agent, err := s.agents.GetByID(ctx, record.AgentID)
	if err != nil {
		s.log.Warn("cannot notify agent owner", zap.String("intent_id", record.IntentID), zap.Error(err))
		return
	}
	s.notifier.Notify(ctx, agent.UserID, title, message, typ,
		map[string]any{"intent_id": record.IntentID})
}
