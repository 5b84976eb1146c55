package chain

import (
	"time"

	"github.com/mesh-marketplace/backend/internal/errs"
)

// EscrowState is the decoded on-chain escrow account.
type EscrowState struct {
	Address     string    `json:"address"`
	IntentOwner string    `json:"intent_owner"`
	Agent       string    `json:"agent"`
	IntentID    string    `json:"intent_id"`
	Lamports    int64     `json:"lamports"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisputeState is the decoded on-chain dispute account.
type DisputeState struct {
	Address    string      `json:"address"`
	Escrow     string      `json:"escrow"`
	Disputer   string      `json:"disputer"`
	Reason     string      `json:"reason"`
	Status     string      `json:"status"`
	Resolution *Resolution `json:"resolution,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

type ResolutionKind uint8

const (
	ResolutionReleaseToAgent ResolutionKind = iota + 1
	ResolutionRefundToOwner
	ResolutionSplit
)

// Resolution is a closed variant: release-to-agent, refund-to-owner,
// or split with an agent percentage. The percentage is only reachable
// through Split, so a stray percentage on the other variants cannot be
// represented.
type Resolution struct {
	kind            ResolutionKind
	agentPercentage int
}

func ReleaseToAgent() Resolution {
	return Resolution{kind: ResolutionReleaseToAgent}
}

func RefundToOwner() Resolution {
	return Resolution{kind: ResolutionRefundToOwner}
}

func Split(agentPercentage int) (Resolution, error) {
	if agentPercentage < 0 || agentPercentage > 100 {
		return Resolution{}, errs.Validationf("agent percentage %d out of range [0,100]", agentPercentage)
	}
	return Resolution{kind: ResolutionSplit, agentPercentage: agentPercentage}, nil
}

func (r Resolution) Kind() ResolutionKind { return r.kind }

// AgentPercentage is meaningful only when Kind() == ResolutionSplit.
func (r Resolution) AgentPercentage() int { return r.agentPercentage }

func (r Resolution) String() string {
	switch r.kind {
	case ResolutionReleaseToAgent:
		return "release_to_agent"
	case ResolutionRefundToOwner:
		return "refund_to_owner"
	case ResolutionSplit:
		return "split"
	}
	return "unknown"
}
