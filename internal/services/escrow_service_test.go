package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/events"
	"github.com/mesh-marketplace/backend/internal/models"
)

// --- in-memory fakes ---

type memEscrowStore struct {
	byIntent   map[string]*models.EscrowRecord
	failCreate bool
}

func newMemEscrowStore() *memEscrowStore {
	return &memEscrowStore{byIntent: make(map[string]*models.EscrowRecord)}
}

func (s *memEscrowStore) Create(_ context.Context, e *models.EscrowRecord) error {
	if s.failCreate {
		return fmt.Errorf("connection reset")
	}
	if _, ok := s.byIntent[e.IntentID]; ok {
		return errs.Duplicatef("escrow record already exists for intent %s", e.IntentID)
	}
	e.ID = uuid.New()
	cp := *e
	s.byIntent[e.IntentID] = &cp
	return nil
}

func (s *memEscrowStore) UpdateStatus(_ context.Context, id uuid.UUID, newStatus string, signature *string) error {
	for _, e := range s.byIntent {
		if e.ID == id {
			e.Status = newStatus
			switch newStatus {
			case models.EscrowStatusCompleted, models.EscrowStatusSplit:
				e.ReleaseSignature = signature
			case models.EscrowStatusRefunded:
				e.RefundSignature = signature
			}
			return nil
		}
	}
	return errs.NotFoundf("escrow record %s", id)
}

func (s *memEscrowStore) GetByIntentID(_ context.Context, intentID string) (*models.EscrowRecord, error) {
	e, ok := s.byIntent[intentID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memEscrowStore) ListForUser(_ context.Context, _ uuid.UUID) ([]models.EscrowRecord, error) {
	var out []models.EscrowRecord
	for _, e := range s.byIntent {
		out = append(out, *e)
	}
	return out, nil
}

func (s *memEscrowStore) ListNonTerminal(_ context.Context, _ int) ([]models.EscrowRecord, error) {
	var out []models.EscrowRecord
	for _, e := range s.byIntent {
		if !models.IsTerminalEscrowStatus(e.Status) {
			out = append(out, *e)
		}
	}
	return out, nil
}

type memDisputeStore struct {
	byIntent map[string]*models.Dispute
}

func newMemDisputeStore() *memDisputeStore {
	return &memDisputeStore{byIntent: make(map[string]*models.Dispute)}
}

func (s *memDisputeStore) Create(_ context.Context, d *models.Dispute) error {
	if existing, ok := s.byIntent[d.IntentID]; ok && existing.Status == models.DisputeStatusOpen {
		return errs.Duplicatef("an open dispute already exists for intent %s", d.IntentID)
	}
	d.ID = uuid.New()
	cp := *d
	s.byIntent[d.IntentID] = &cp
	return nil
}

func (s *memDisputeStore) GetByIntentID(_ context.Context, intentID string) (*models.Dispute, error) {
	d, ok := s.byIntent[intentID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *memDisputeStore) Resolve(_ context.Context, id uuid.UUID, resolution string, agentPercentage *int, signature string) error {
	for _, d := range s.byIntent {
		if d.ID == id {
			if d.Status != models.DisputeStatusOpen {
				return errs.InvalidStatef("dispute %s is not open", id)
			}
			d.Status = models.DisputeStatusResolved
			d.Resolution = &resolution
			d.AgentPercentage = agentPercentage
			d.ResolveSignature = &signature
			return nil
		}
	}
	return errs.NotFoundf("dispute %s", id)
}

type memIntentStore struct {
	byID map[string]*models.Intent
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{byID: make(map[string]*models.Intent)}
}

func (s *memIntentStore) GetByID(_ context.Context, id string) (*models.Intent, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, errs.NotFoundf("intent %s", id)
	}
	cp := *i
	return &cp, nil
}

func (s *memIntentStore) SetEscrowFunded(_ context.Context, id string) error {
	i, ok := s.byID[id]
	if !ok {
		return errs.NotFoundf("intent %s", id)
	}
	i.EscrowFunded = true
	return nil
}

func (s *memIntentStore) SetStatus(_ context.Context, id, status string) error {
	i, ok := s.byID[id]
	if !ok {
		return errs.NotFoundf("intent %s", id)
	}
	i.Status = status
	return nil
}

type memAgentStore struct {
	byID map[uuid.UUID]*models.Agent
}

func newMemAgentStore() *memAgentStore {
	return &memAgentStore{byID: make(map[uuid.UUID]*models.Agent)}
}

func (s *memAgentStore) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, errs.NotFoundf("agent %s", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memAgentStore) GetByWalletAddress(_ context.Context, walletAddress string) (*models.Agent, error) {
	for _, a := range s.byID {
		if a.WalletAddress == walletAddress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errs.NotFoundf("agent with wallet %s", walletAddress)
}

type memAuditStore struct {
	entries []models.AuditLog
}

func (s *memAuditStore) Log(_ context.Context, entry models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditStore) GetByEntity(_ context.Context, entityType, entityID string, _, _ int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memAuditStore) actions() []string {
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type recordingNotifier struct {
	sent []models.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, title, message, typ string, metadata map[string]any) {
	n.sent = append(n.sent, models.Notification{
		UserID: userID, Title: title, Message: message, Type: typ, Metadata: metadata,
	})
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, events.Event) error { return nil }

// --- fixture ---

type fixture struct {
	svc        *EscrowService
	escrows    *memEscrowStore
	disputes   *memDisputeStore
	intents    *memIntentStore
	agents     *memAgentStore
	audit      *memAuditStore
	notifier   *recordingNotifier
	client     *chain.FakeClient
	masterSeed []byte

	ownerUserID uuid.UUID
	agentUserID uuid.UUID
	agentID     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	masterSeed := []byte("test-master-seed-0123456789abcdef")
	ownerUserID := uuid.New()
	agentUserID := uuid.New()
	agentID := uuid.New()

	agentWallet, err := chain.DeriveUserWallet(masterSeed, agentUserID)
	if err != nil {
		t.Fatal(err)
	}
	arbitrator, err := chain.GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		escrows:     newMemEscrowStore(),
		disputes:    newMemDisputeStore(),
		intents:     newMemIntentStore(),
		agents:      newMemAgentStore(),
		audit:       &memAuditStore{},
		notifier:    &recordingNotifier{},
		client:      chain.NewFakeClient("test-program", arbitrator.PublicKey()),
		masterSeed:  masterSeed,
		ownerUserID: ownerUserID,
		agentUserID: agentUserID,
		agentID:     agentID,
	}

	f.intents.byID["intent-1"] = &models.Intent{
		ID:     "intent-1",
		UserID: ownerUserID,
		Title:  "summarize pitch decks",
		Status: models.IntentStatusMatched,
	}
	f.agents.byID[agentID] = &models.Agent{
		ID:            agentID,
		UserID:        agentUserID,
		Name:          "deck-bot",
		WalletAddress: agentWallet.PublicKey(),
		Status:        "active",
	}

	f.svc = NewEscrowService(
		f.escrows, f.disputes, f.intents, f.agents, f.audit,
		f.notifier, f.client, noopPublisher{}, masterSeed, arbitrator, zap.NewNop(),
	)
	return f
}

func (f *fixture) deposit(t *testing.T) *models.EscrowRecord {
	t.Helper()
	record, err := f.svc.Deposit(context.Background(), f.ownerUserID, "intent-1", f.agentID, "1.5")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return record
}

// --- tests ---

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	record := f.deposit(t)

	if record.Status != models.EscrowStatusActive {
		t.Errorf("status = %s, want active", record.Status)
	}
	if record.AmountLamports != 1_500_000_000 {
		t.Errorf("lamports = %d, want 1.5 SOL floored", record.AmountLamports)
	}
	if record.DepositSignature == "" || record.EscrowAddress == "" {
		t.Error("missing signature or address on record")
	}

	intent, _ := f.intents.GetByID(context.Background(), "intent-1")
	if !intent.EscrowFunded {
		t.Error("intent not flagged as funded")
	}

	// Counterparty heard about it
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].UserID != f.agentUserID {
		t.Errorf("expected one notification to the agent owner, got %+v", f.notifier.sent)
	}
	if f.notifier.sent[0].Type != models.NotificationEscrowDeposited {
		t.Errorf("notification type = %s", f.notifier.sent[0].Type)
	}
}

func TestDepositAuthorization(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Deposit(context.Background(), f.agentUserID, "intent-1", f.agentID, "1")
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("deposit by non-owner error = %v, want unauthorized", err)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []string{"", "0", "-1", "abc"} {
		if _, err := f.svc.Deposit(context.Background(), f.ownerUserID, "intent-1", f.agentID, amount); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("deposit of %q error = %v, want validation", amount, err)
		}
	}
}

func TestDepositDuplicate(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	_, err := f.svc.Deposit(context.Background(), f.ownerUserID, "intent-1", f.agentID, "1.5")
	if !errors.Is(err, errs.ErrDuplicate) {
		t.Errorf("second deposit error = %v, want duplicate", err)
	}
}

func TestDepositUnknownIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Deposit(context.Background(), f.ownerUserID, "missing", f.agentID, "1")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

// A record-write failure after a confirmed deposit surfaces as a
// transaction error and leaves a reconciliation-gap audit entry the
// indexer can replay.
func TestDepositReconciliationGap(t *testing.T) {
	f := newFixture(t)
	f.escrows.failCreate = true

	_, err := f.svc.Deposit(context.Background(), f.ownerUserID, "intent-1", f.agentID, "2")
	if !errors.Is(err, errs.ErrTransaction) {
		t.Fatalf("error = %v, want transaction", err)
	}

	var gap *models.AuditLog
	for i := range f.audit.entries {
		if f.audit.entries[i].Action == "escrow_reconciliation_gap" {
			gap = &f.audit.entries[i]
		}
	}
	if gap == nil {
		t.Fatalf("no reconciliation gap audit entry, actions: %v", f.audit.actions())
	}
	meta, ok := gap.Meta.(map[string]any)
	if !ok {
		t.Fatalf("gap meta is not a map: %T", gap.Meta)
	}
	if meta["signature"] == "" || meta["intent_id"] != "intent-1" {
		t.Errorf("gap entry missing replay data: %+v", meta)
	}

	// Chain state exists even though the mirror is missing
	if _, err := f.client.GetEscrowData(context.Background(), "intent-1"); err != nil {
		t.Errorf("expected escrow on chain, got %v", err)
	}
}

func TestBackfillFromChain(t *testing.T) {
	f := newFixture(t)
	f.escrows.failCreate = true
	_, _ = f.svc.Deposit(context.Background(), f.ownerUserID, "intent-1", f.agentID, "2")

	f.escrows.failCreate = false
	record, err := f.svc.BackfillFromChain(context.Background(), "intent-1", "sig-from-gap")
	if err != nil {
		t.Fatalf("BackfillFromChain: %v", err)
	}
	if record.AmountLamports != 2_000_000_000 || record.AgentID != f.agentID {
		t.Errorf("backfilled record wrong: %+v", record)
	}

	// Idempotent: a second call returns the existing row
	again, err := f.svc.BackfillFromChain(context.Background(), "intent-1", "sig-from-gap")
	if err != nil || again.ID != record.ID {
		t.Errorf("second backfill = (%+v, %v), want same record", again, err)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)
	f.notifier.sent = nil

	record, err := f.svc.Release(context.Background(), f.ownerUserID, "intent-1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if record.Status != models.EscrowStatusCompleted || record.ReleaseSignature == nil {
		t.Errorf("record after release: %+v", record)
	}

	intent, _ := f.intents.GetByID(context.Background(), "intent-1")
	if intent.Status != models.IntentStatusPaid {
		t.Errorf("intent status = %s, want paid", intent.Status)
	}

	// Both the intent owner and the agent owner hear about the payout
	recipients := map[uuid.UUID]bool{}
	for _, n := range f.notifier.sent {
		if n.Type != models.NotificationEscrowReleased {
			t.Errorf("notification type = %s, want %s", n.Type, models.NotificationEscrowReleased)
		}
		recipients[n.UserID] = true
	}
	if len(f.notifier.sent) != 2 || !recipients[f.ownerUserID] || !recipients[f.agentUserID] {
		t.Errorf("expected release notifications to both parties, got %+v", f.notifier.sent)
	}
}

// Notification delivery is best-effort: a dead sink (store and
// publisher both failing) must never fail the escrow workflow.
func TestWorkflowSucceedsWhenNotificationSinkFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	deadSink := NewNotificationService(
		&memNotificationStore{insertErr: errors.New("connection reset")},
		&recordingPublisher{err: errors.New("redis down")},
		zap.NewNop(),
	)
	arbitrator, err := chain.GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	svc := NewEscrowService(
		f.escrows, f.disputes, f.intents, f.agents, f.audit,
		deadSink, f.client, noopPublisher{}, f.masterSeed, arbitrator, zap.NewNop(),
	)

	if _, err := svc.Deposit(ctx, f.ownerUserID, "intent-1", f.agentID, "1"); err != nil {
		t.Fatalf("Deposit with failing notification sink: %v", err)
	}
	record, err := svc.Release(ctx, f.ownerUserID, "intent-1")
	if err != nil {
		t.Fatalf("Release with failing notification sink: %v", err)
	}
	if record.Status != models.EscrowStatusCompleted {
		t.Errorf("status = %s, want completed", record.Status)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	if _, err := f.svc.Release(context.Background(), f.agentUserID, "intent-1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("release by agent owner error = %v, want unauthorized", err)
	}
}

func TestReleaseWithoutEscrow(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Release(context.Background(), f.ownerUserID, "intent-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	record, err := f.svc.Refund(context.Background(), f.ownerUserID, "intent-1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if record.Status != models.EscrowStatusRefunded || record.RefundSignature == nil {
		t.Errorf("record after refund: %+v", record)
	}
}

func TestDoubleReleaseRejected(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	if _, err := f.svc.Release(context.Background(), f.ownerUserID, "intent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Release(context.Background(), f.ownerUserID, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("second release error = %v, want invalid state", err)
	}
	if _, err := f.svc.Refund(context.Background(), f.ownerUserID, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("refund after release error = %v, want invalid state", err)
	}
}

func TestDisputeAndResolveSplit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t)
	f.notifier.sent = nil

	// Agent owner files the dispute; the intent owner is notified
	dispute, err := f.svc.OpenDispute(ctx, f.agentUserID, "intent-1", "owner unresponsive")
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if dispute.Status != models.DisputeStatusOpen || dispute.DisputerUserID != f.agentUserID {
		t.Errorf("dispute: %+v", dispute)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].UserID != f.ownerUserID {
		t.Errorf("expected dispute notification to the owner, got %+v", f.notifier.sent)
	}

	record, _ := f.escrows.GetByIntentID(ctx, "intent-1")
	if record.Status != models.EscrowStatusDisputed {
		t.Errorf("record status = %s, want disputed", record.Status)
	}

	// Release is blocked during the dispute
	if _, err := f.svc.Release(ctx, f.ownerUserID, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("release while disputed error = %v, want invalid state", err)
	}

	split, err := chain.Split(70)
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := f.svc.ResolveDispute(ctx, "intent-1", split)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if resolved.Status != models.DisputeStatusResolved || resolved.Resolution == nil || *resolved.Resolution != models.ResolutionSplit {
		t.Errorf("resolved dispute: %+v", resolved)
	}
	if resolved.AgentPercentage == nil || *resolved.AgentPercentage != 70 {
		t.Errorf("agent percentage = %v, want 70", resolved.AgentPercentage)
	}

	record, _ = f.escrows.GetByIntentID(ctx, "intent-1")
	if record.Status != models.EscrowStatusSplit {
		t.Errorf("record status = %s, want split", record.Status)
	}

	// Resolution is immutable
	if _, err := f.svc.ResolveDispute(ctx, "intent-1", chain.RefundToOwner()); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("second resolve error = %v, want invalid state", err)
	}
}

func TestOpenDisputeAuthorization(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	stranger := uuid.New()
	if _, err := f.svc.OpenDispute(context.Background(), stranger, "intent-1", "not involved"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("stranger dispute error = %v, want unauthorized", err)
	}
}

func TestOpenDisputeRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	if _, err := f.svc.OpenDispute(context.Background(), f.ownerUserID, "intent-1", ""); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("empty reason error = %v, want validation", err)
	}
}

func TestResolveWithoutOpenDispute(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)

	if _, err := f.svc.ResolveDispute(context.Background(), "intent-1", chain.RefundToOwner()); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("resolve without dispute error = %v, want invalid state", err)
	}
}

func TestGetEscrowForIntentVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t)

	// Both parties see it
	for _, who := range []uuid.UUID{f.ownerUserID, f.agentUserID} {
		record, _, err := f.svc.GetEscrowForIntent(ctx, who, "intent-1")
		if err != nil || record == nil {
			t.Errorf("party %s cannot see the escrow: %v", who, err)
		}
	}

	// A stranger does not
	if _, _, err := f.svc.GetEscrowForIntent(ctx, uuid.New(), "intent-1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("stranger lookup error = %v, want unauthorized", err)
	}
}

// A never-funded intent is not an error for its owner: the lookup
// succeeds with no record, so callers can tell "not funded yet" apart
// from a bad intent id.
func TestGetEscrowForIntentNeverFunded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record, dispute, err := f.svc.GetEscrowForIntent(ctx, f.ownerUserID, "intent-1")
	if err != nil {
		t.Fatalf("owner lookup on unfunded intent: %v", err)
	}
	if record != nil || dispute != nil {
		t.Errorf("expected no record for an unfunded intent, got (%+v, %+v)", record, dispute)
	}

	// Anyone else is still shut out
	if _, _, err := f.svc.GetEscrowForIntent(ctx, f.agentUserID, "intent-1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("non-owner lookup error = %v, want unauthorized", err)
	}

	// A bad intent id stays an error
	if _, _, err := f.svc.GetEscrowForIntent(ctx, f.ownerUserID, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing intent error = %v, want not found", err)
	}
}

// A stale mirror heals after the chain rejects an operation.
func TestReconcileAfterStaleRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t)

	// Complete on chain behind the mirror's back
	ownerWallet, err := chain.DeriveUserWallet(f.masterSeed, f.ownerUserID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.ReleaseFunds(ctx, ownerWallet, "intent-1"); err != nil {
		t.Fatal(err)
	}

	// The refund hits the chain's invalid-state guard and the service
	// syncs the mirror from chain.
	if _, err := f.svc.Refund(ctx, f.ownerUserID, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("refund error = %v, want invalid state", err)
	}

	record, _ := f.escrows.GetByIntentID(ctx, "intent-1")
	if record.Status != models.EscrowStatusCompleted {
		t.Errorf("mirror status after sync = %s, want completed", record.Status)
	}
}

func TestReconcileNoDivergence(t *testing.T) {
	f := newFixture(t)
	record := f.deposit(t)

	changed, err := f.svc.Reconcile(context.Background(), record)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if changed {
		t.Error("reconcile reported a change on a fresh record")
	}
}
