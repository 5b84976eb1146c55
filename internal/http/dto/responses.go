package dto

import (
	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/models"
)

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// EscrowResponse wraps the record with the amount rendered as a
// decimal SOL string so the dashboard never does lamports math.
type EscrowResponse struct {
	*models.EscrowRecord
	AmountSOL string          `json:"amount_sol"`
	Dispute   *models.Dispute `json:"dispute,omitempty"`
}

func NewEscrowResponse(record *models.EscrowRecord, dispute *models.Dispute) EscrowResponse {
	return EscrowResponse{
		EscrowRecord: record,
		AmountSOL:    chain.FormatLamports(record.AmountLamports),
		Dispute:      dispute,
	}
}

func NewEscrowListResponse(records []models.EscrowRecord) []EscrowResponse {
	out := make([]EscrowResponse, 0, len(records))
	for i := range records {
		out = append(out, NewEscrowResponse(&records[i], nil))
	}
	return out
}
