package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AgentStatusActive   = "active"
	AgentStatusInactive = "inactive"
)

// Agent is the counterparty expected to fulfil an intent and receive
// released escrow funds at its wallet address.
type Agent struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Name          string    `json:"name"`
	Description   *string   `json:"description,omitempty"`
	WalletAddress string    `json:"wallet_address"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
