package chain

import "context"

// InitializeResult is returned by a successful deposit transaction.
type InitializeResult struct {
	Signature     string `json:"signature"`
	EscrowAddress string `json:"escrow_address"`
}

// DisputeResult is returned by a successful dispute transaction.
type DisputeResult struct {
	Signature      string `json:"signature"`
	DisputeAddress string `json:"dispute_address"`
}

// Client translates escrow operations into signed transactions against
// the escrow program and reads back account state. Every mutating call
// submits exactly one transaction and blocks until it reaches confirmed
// commitment (bounded by the client's confirmation timeout); none retry
// automatically — retry policy belongs to the orchestrator.
type Client interface {
	DeriveEscrowAddress(intentID string) string
	DeriveDisputeAddress(escrowAddress string) string

	// InitializeEscrow moves lamports from the signer into program
	// custody for the intent. Fails with errs.ErrValidation for a
	// non-positive amount, errs.ErrDuplicate if an escrow already
	// exists for the intent.
	InitializeEscrow(ctx context.Context, w Wallet, intentID string, lamports int64, agentAddress string) (InitializeResult, error)

	// ReleaseFunds pays the full escrowed amount to the agent. Only
	// the recorded intent owner may sign.
	ReleaseFunds(ctx context.Context, w Wallet, intentID string) (string, error)

	// RefundEscrow returns the full amount to the intent owner. Valid
	// signers: the intent owner or the arbitrator.
	RefundEscrow(ctx context.Context, w Wallet, intentID string) (string, error)

	// CreateDispute opens a dispute against an active escrow. Valid
	// signers: the intent owner or the agent.
	CreateDispute(ctx context.Context, w Wallet, intentID, reason string) (DisputeResult, error)

	// ResolveDispute settles an open dispute. Only the arbitrator may
	// sign. A split resolution distributes floor(total*pct/100) to the
	// agent and the remainder to the owner.
	ResolveDispute(ctx context.Context, w Wallet, intentID string, resolution Resolution) (string, error)

	// GetEscrowData returns the escrow account, or errs.ErrNotFound.
	GetEscrowData(ctx context.Context, intentID string) (*EscrowState, error)

	// GetDisputeData returns the dispute account, or (nil, nil) when
	// no dispute was ever filed — a normal outcome, not an error.
	GetDisputeData(ctx context.Context, intentID string) (*DisputeState, error)
}
