package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
)

// FakeClient is an in-memory escrow program with the same account state
// machine and preconditions as the deployed one. It backs tests and
// local development when no RPC endpoint is configured.
type FakeClient struct {
	programID  string
	arbitrator string

	mu       sync.Mutex
	escrows  map[string]*EscrowState  // keyed by intent id
	disputes map[string]*DisputeState // keyed by intent id
	credits  map[string]int64         // lamports paid out per pubkey
	seq      uint64
}

func NewFakeClient(programID, arbitratorPubkey string) *FakeClient {
	return &FakeClient{
		programID:  programID,
		arbitrator: arbitratorPubkey,
		escrows:    make(map[string]*EscrowState),
		disputes:   make(map[string]*DisputeState),
		credits:    make(map[string]int64),
	}
}

func (c *FakeClient) DeriveEscrowAddress(intentID string) string {
	return DeriveEscrowAddress(c.programID, intentID)
}

func (c *FakeClient) DeriveDisputeAddress(escrowAddress string) string {
	return DeriveDisputeAddress(c.programID, escrowAddress)
}

func (c *FakeClient) InitializeEscrow(_ context.Context, w Wallet, intentID string, lamports int64, agentAddress string) (InitializeResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return InitializeResult{}, errs.Validationf("intent id is required")
	}
	if lamports <= 0 {
		return InitializeResult{}, errs.Validationf("deposit amount must be positive, got %d lamports", lamports)
	}
	if strings.TrimSpace(agentAddress) == "" {
		return InitializeResult{}, errs.Validationf("agent address is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.escrows[intentID]; ok {
		return InitializeResult{}, errs.Duplicatef("escrow already exists for intent %s", intentID)
	}

	now := time.Now().UTC()
	addr := c.DeriveEscrowAddress(intentID)
	c.escrows[intentID] = &EscrowState{
		Address:     addr,
		IntentOwner: w.PublicKey(),
		Agent:       agentAddress,
		IntentID:    intentID,
		Lamports:    lamports,
		Status:      models.EscrowStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return InitializeResult{Signature: c.signature("initialize", intentID), EscrowAddress: addr}, nil
}

func (c *FakeClient) ReleaseFunds(_ context.Context, w Wallet, intentID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.escrow(intentID)
	if err != nil {
		return "", err
	}
	if st.IntentOwner != w.PublicKey() {
		return "", errs.Unauthorizedf("only the intent owner may release escrow %s", st.Address)
	}
	if !models.IsEscrowOpAllowed(st.Status, models.EscrowOpRelease) {
		return "", errs.InvalidStatef("cannot release escrow in status %q", st.Status)
	}

	c.credits[st.Agent] += st.Lamports
	st.Status = models.EscrowStatusCompleted
	st.UpdatedAt = time.Now().UTC()
	return c.signature("release", intentID), nil
}

func (c *FakeClient) RefundEscrow(_ context.Context, w Wallet, intentID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.escrow(intentID)
	if err != nil {
		return "", err
	}
	signer := w.PublicKey()
	if signer != st.IntentOwner && signer != c.arbitrator {
		return "", errs.Unauthorizedf("only the intent owner or the arbitrator may refund escrow %s", st.Address)
	}
	if !models.IsEscrowOpAllowed(st.Status, models.EscrowOpRefund) {
		return "", errs.InvalidStatef("cannot refund escrow in status %q", st.Status)
	}

	c.credits[st.IntentOwner] += st.Lamports
	st.Status = models.EscrowStatusRefunded
	st.UpdatedAt = time.Now().UTC()
	return c.signature("refund", intentID), nil
}

func (c *FakeClient) CreateDispute(_ context.Context, w Wallet, intentID, reason string) (DisputeResult, error) {
	if strings.TrimSpace(reason) == "" {
		return DisputeResult{}, errs.Validationf("dispute reason is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.escrow(intentID)
	if err != nil {
		return DisputeResult{}, err
	}
	signer := w.PublicKey()
	if signer != st.IntentOwner && signer != st.Agent {
		return DisputeResult{}, errs.Unauthorizedf("only the intent owner or the agent may dispute escrow %s", st.Address)
	}
	if !models.IsEscrowOpAllowed(st.Status, models.EscrowOpDispute) {
		return DisputeResult{}, errs.InvalidStatef("cannot dispute escrow in status %q", st.Status)
	}
	if d, ok := c.disputes[intentID]; ok && d.Status == models.DisputeStatusOpen {
		return DisputeResult{}, errs.Duplicatef("an open dispute already exists for intent %s", intentID)
	}

	now := time.Now().UTC()
	addr := c.DeriveDisputeAddress(st.Address)
	c.disputes[intentID] = &DisputeState{
		Address:   addr,
		Escrow:    st.Address,
		Disputer:  signer,
		Reason:    reason,
		Status:    models.DisputeStatusOpen,
		CreatedAt: now,
	}
	st.Status = models.EscrowStatusDisputed
	st.UpdatedAt = now
	return DisputeResult{Signature: c.signature("dispute", intentID), DisputeAddress: addr}, nil
}

func (c *FakeClient) ResolveDispute(_ context.Context, w Wallet, intentID string, resolution Resolution) (string, error) {
	if resolution.Kind() == 0 {
		return "", errs.Validationf("resolution is required")
	}
	if w.PublicKey() != c.arbitrator {
		return "", errs.Unauthorizedf("only the arbitrator may resolve disputes")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.escrow(intentID)
	if err != nil {
		return "", err
	}
	dispute, ok := c.disputes[intentID]
	if !ok {
		return "", errs.NotFoundf("no dispute exists for intent %s", intentID)
	}
	if dispute.Status != models.DisputeStatusOpen {
		return "", errs.InvalidStatef("dispute for intent %s is already resolved", intentID)
	}

	now := time.Now().UTC()
	switch resolution.Kind() {
	case ResolutionReleaseToAgent:
		c.credits[st.Agent] += st.Lamports
		st.Status = models.EscrowStatusCompleted
	case ResolutionRefundToOwner:
		c.credits[st.IntentOwner] += st.Lamports
		st.Status = models.EscrowStatusRefunded
	case ResolutionSplit:
		agentPart, ownerPart, err := SplitLamports(st.Lamports, resolution.AgentPercentage())
		if err != nil {
			return "", err
		}
		c.credits[st.Agent] += agentPart
		c.credits[st.IntentOwner] += ownerPart
		st.Status = models.EscrowStatusSplit
	}
	st.UpdatedAt = now

	dispute.Status = models.DisputeStatusResolved
	res := resolution
	dispute.Resolution = &res
	dispute.ResolvedAt = &now
	return c.signature("resolve", intentID), nil
}

func (c *FakeClient) GetEscrowData(_ context.Context, intentID string) (*EscrowState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.escrow(intentID)
	if err != nil {
		return nil, err
	}
	cp := *st
	return &cp, nil
}

func (c *FakeClient) GetDisputeData(_ context.Context, intentID string) (*DisputeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.disputes[intentID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// Credited reports the lamports paid out to a pubkey so far. Test
// helper for fund-conservation checks.
func (c *FakeClient) Credited(pubkey string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credits[pubkey]
}

// escrow must be called with c.mu held.
func (c *FakeClient) escrow(intentID string) (*EscrowState, error) {
	st, ok := c.escrows[intentID]
	if !ok {
		return nil, errs.NotFoundf("escrow for intent %s", intentID)
	}
	return st, nil
}

func (c *FakeClient) signature(op, intentID string) string {
	c.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", op, intentID, c.seq)))
	return base58.Encode(sum[:])
}
