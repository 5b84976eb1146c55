package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	NotificationEscrowDeposited = "escrow_deposited"
	NotificationEscrowReleased  = "escrow_released"
	NotificationEscrowRefunded  = "escrow_refunded"
	NotificationDisputeOpened   = "dispute_opened"
	NotificationDisputeResolved = "dispute_resolved"
)

type Notification struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}
