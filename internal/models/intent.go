package models

import (
	"time"

	"github.com/google/uuid"
)

// Intent statuses
const (
	IntentStatusOpen      = "open"
	IntentStatusMatched   = "matched"
	IntentStatusPaid      = "paid"
	IntentStatusCancelled = "cancelled"
)

// Intent is the business-level task an escrow secures payment for.
// The escrow core reads it for authorization and notification
// addressing; the dashboard owns the rest of its lifecycle.
type Intent struct {
	ID           string    `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description,omitempty"`
	Status       string    `json:"status"`
	BudgetSOL    *string   `json:"budget_sol,omitempty"`
	EscrowFunded bool      `json:"escrow_funded"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
