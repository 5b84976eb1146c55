package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow statuses. Completed, Refunded and Split are terminal;
// Disputed is transient pending resolution.
const (
	EscrowStatusActive    = "active"
	EscrowStatusCompleted = "completed"
	EscrowStatusRefunded  = "refunded"
	EscrowStatusDisputed  = "disputed"
	EscrowStatusSplit     = "split"
)

// Escrow operations
const (
	EscrowOpRelease = "release"
	EscrowOpRefund  = "refund"
	EscrowOpDispute = "dispute"
	EscrowOpResolve = "resolve"
)

// AllowedEscrowOps: status -> operations legal from it. Single source
// of truth for lifecycle checks; both the orchestrator and the chain
// client consult this table instead of per-function conditionals.
var AllowedEscrowOps = map[string][]string{
	EscrowStatusActive:    {EscrowOpRelease, EscrowOpRefund, EscrowOpDispute},
	EscrowStatusDisputed:  {EscrowOpRefund, EscrowOpDispute, EscrowOpResolve},
	EscrowStatusCompleted: {},
	EscrowStatusRefunded:  {},
	EscrowStatusSplit:     {},
}

func IsEscrowOpAllowed(status, op string) bool {
	allowed, ok := AllowedEscrowOps[status]
	if !ok {
		return false
	}
	for _, o := range allowed {
		if o == op {
			return true
		}
	}
	return false
}

func IsTerminalEscrowStatus(status string) bool {
	allowed, ok := AllowedEscrowOps[status]
	return ok && len(allowed) == 0
}

// EscrowRecord mirrors the on-chain escrow account plus the signature
// trail. Written only after the corresponding on-chain call succeeds:
// chain state is the source of truth, this row is the queryable cache.
type EscrowRecord struct {
	ID               uuid.UUID `json:"id"`
	IntentID         string    `json:"intent_id"`
	AgentID          uuid.UUID `json:"agent_id"`
	EscrowAddress    string    `json:"escrow_address"`
	AmountLamports   int64     `json:"amount_lamports"`
	Status           string    `json:"status"`
	DepositSignature string    `json:"deposit_tx_signature"`
	ReleaseSignature *string   `json:"release_tx_signature,omitempty"`
	RefundSignature  *string   `json:"refund_tx_signature,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
