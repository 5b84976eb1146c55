package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
)

const confirmPollInterval = 2 * time.Second

// ProgramClient implements Client against a deployed escrow program via
// an RPC connection. Mutating calls pre-read account state to surface
// precise authorization/state errors before spending a transaction; the
// program itself re-checks the same preconditions atomically, so a
// concurrent writer losing the race gets a transaction failure and must
// re-read state.
type ProgramClient struct {
	conn           Connection
	programID      string
	arbitrator     string
	confirmTimeout time.Duration
	log            *zap.Logger
}

func NewProgramClient(conn Connection, programID, arbitratorPubkey string, confirmTimeout time.Duration, log *zap.Logger) *ProgramClient {
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &ProgramClient{
		conn:           conn,
		programID:      programID,
		arbitrator:     arbitratorPubkey,
		confirmTimeout: confirmTimeout,
		log:            log,
	}
}

func (c *ProgramClient) DeriveEscrowAddress(intentID string) string {
	return DeriveEscrowAddress(c.programID, intentID)
}

func (c *ProgramClient) DeriveDisputeAddress(escrowAddress string) string {
	return DeriveDisputeAddress(c.programID, escrowAddress)
}

func (c *ProgramClient) InitializeEscrow(ctx context.Context, w Wallet, intentID string, lamports int64, agentAddress string) (InitializeResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return InitializeResult{}, errs.Validationf("intent id is required")
	}
	if lamports <= 0 {
		return InitializeResult{}, errs.Validationf("deposit amount must be positive, got %d lamports", lamports)
	}
	if strings.TrimSpace(agentAddress) == "" {
		return InitializeResult{}, errs.Validationf("agent address is required")
	}

	_, err := c.GetEscrowData(ctx, intentID)
	if err == nil {
		return InitializeResult{}, errs.Duplicatef("escrow already exists for intent %s", intentID)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return InitializeResult{}, err
	}

	e := &encoder{}
	e.byte(instrInitialize)
	e.str(intentID)
	e.str(agentAddress)
	e.u64(uint64(lamports))

	sig, err := c.submit(ctx, w, e.buf)
	if err != nil {
		return InitializeResult{}, err
	}
	return InitializeResult{Signature: sig, EscrowAddress: c.DeriveEscrowAddress(intentID)}, nil
}

func (c *ProgramClient) ReleaseFunds(ctx context.Context, w Wallet, intentID string) (string, error) {
	st, err := c.GetEscrowData(ctx, intentID)
	if err != nil {
		return "", err
	}
	if st.IntentOwner != w.PublicKey() {
		return "", errs.Unauthorizedf("only the intent owner may release escrow %s", st.Address)
	}
	if !models.IsEscrowOpAllowed(st.Status, models.EscrowOpRelease) {
		return "", errs.InvalidStatef("cannot release escrow in status %q", st.Status)
	}

	e := &encoder{}
	e.byte(instrRelease)
	e.str(intentID)
	return c.submit(ctx, w, e.buf)
}

func (c *ProgramClient) RefundEscrow(ctx context.Context, w Wallet, intentID string) (string, error) {
	st, err := c.GetEscrowData(ctx, intentID)
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

	e := &encoder{}
	e.byte(instrRefund)
	e.str(intentID)
	return c.submit(ctx, w, e.buf)
}

func (c *ProgramClient) CreateDispute(ctx context.Context, w Wallet, intentID, reason string) (DisputeResult, error) {
	if strings.TrimSpace(reason) == "" {
		return DisputeResult{}, errs.Validationf("dispute reason is required")
	}
	st, err := c.GetEscrowData(ctx, intentID)
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
	existing, err := c.GetDisputeData(ctx, intentID)
	if err != nil {
		return DisputeResult{}, err
	}
	if existing != nil && existing.Status == models.DisputeStatusOpen {
		return DisputeResult{}, errs.Duplicatef("an open dispute already exists for intent %s", intentID)
	}

	e := &encoder{}
	e.byte(instrDispute)
	e.str(intentID)
	e.str(reason)

	sig, err := c.submit(ctx, w, e.buf)
	if err != nil {
		return DisputeResult{}, err
	}
	return DisputeResult{Signature: sig, DisputeAddress: c.DeriveDisputeAddress(st.Address)}, nil
}

func (c *ProgramClient) ResolveDispute(ctx context.Context, w Wallet, intentID string, resolution Resolution) (string, error) {
	if resolution.Kind() == 0 {
		return "", errs.Validationf("resolution is required")
	}
	if w.PublicKey() != c.arbitrator {
		return "", errs.Unauthorizedf("only the arbitrator may resolve disputes")
	}
	dispute, err := c.GetDisputeData(ctx, intentID)
	if err != nil {
		return "", err
	}
	if dispute == nil {
		return "", errs.NotFoundf("no dispute exists for intent %s", intentID)
	}
	if dispute.Status != models.DisputeStatusOpen {
		return "", errs.InvalidStatef("dispute for intent %s is already resolved", intentID)
	}

	e := &encoder{}
	e.byte(instrResolve)
	e.str(intentID)
	e.byte(byte(resolution.Kind()))
	e.byte(byte(resolution.AgentPercentage()))
	return c.submit(ctx, w, e.buf)
}

func (c *ProgramClient) GetEscrowData(ctx context.Context, intentID string) (*EscrowState, error) {
	addr := c.DeriveEscrowAddress(intentID)
	data, err := c.conn.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("read escrow account %s: %w", addr, err)
	}
	if data == nil {
		return nil, errs.NotFoundf("escrow for intent %s", intentID)
	}
	return decodeEscrowAccount(addr, data)
}

func (c *ProgramClient) GetDisputeData(ctx context.Context, intentID string) (*DisputeState, error) {
	addr := c.DeriveDisputeAddress(c.DeriveEscrowAddress(intentID))
	data, err := c.conn.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("read dispute account %s: %w", addr, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeDisputeAccount(addr, data)
}

// submit signs, sends and waits for confirmed commitment. Exactly one
// transaction per call; on timeout the outcome is unknown and the
// caller must re-read account state instead of resubmitting.
func (c *ProgramClient) submit(ctx context.Context, w Wallet, instruction []byte) (string, error) {
	blockhash, err := c.conn.GetLatestBlockhash(ctx)
	if err != nil {
		return "", errs.Transactionf("fetch blockhash: %v", err)
	}

	msg := &encoder{}
	msg.str(c.programID)
	msg.str(w.PublicKey())
	msg.str(blockhash)
	msg.str(string(instruction))

	sig, err := w.Sign(msg.buf)
	if err != nil {
		return "", errs.Transactionf("sign transaction: %v", err)
	}

	tx := &encoder{}
	tx.str(string(sig))
	tx.str(string(msg.buf))

	signature, err := c.conn.SendTransaction(ctx, base64.StdEncoding.EncodeToString(tx.buf))
	if err != nil {
		return "", err
	}
	if err := c.awaitConfirmation(ctx, signature); err != nil {
		return "", err
	}
	return signature, nil
}

func (c *ProgramClient) awaitConfirmation(ctx context.Context, signature string) error {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		confirmed, txErr, err := c.conn.GetSignatureStatus(ctx, signature)
		if err != nil {
			c.log.Warn("signature status poll failed", zap.String("signature", signature), zap.Error(err))
		}
		if txErr != nil {
			return txErr
		}
		if confirmed {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.Timeoutf("transaction %s not confirmed within %s", signature, c.confirmTimeout)
		}
		select {
		case <-ctx.Done():
			return errs.Timeoutf("confirmation wait cancelled for %s: %v", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
