package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute resolutions as stored off-chain. agent_percentage is set only
// for the split resolution (enforced by a DB check constraint).
const (
	ResolutionReleaseToAgent = "release_to_agent"
	ResolutionRefundToOwner  = "refund_to_owner"
	ResolutionSplit          = "split"
)

// Dispute mirrors the on-chain dispute account. At most one open
// dispute exists per escrow; a resolved dispute is a permanent audit
// record and its resolution never changes.
type Dispute struct {
	ID               uuid.UUID  `json:"id"`
	EscrowID         uuid.UUID  `json:"escrow_id"`
	IntentID         string     `json:"intent_id"`
	DisputeAddress   string     `json:"dispute_address"`
	DisputerUserID   uuid.UUID  `json:"disputer_user_id"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	Resolution       *string    `json:"resolution,omitempty"`
	AgentPercentage  *int       `json:"agent_percentage,omitempty"`
	ResolveSignature *string    `json:"resolve_tx_signature,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}
