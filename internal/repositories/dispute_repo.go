package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
)

const disputeColumns = `id, escrow_id, intent_id, dispute_address, disputer_user_id, reason,
       status, resolution, agent_percentage, resolve_tx_signature, created_at, resolved_at`

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

// Create inserts an open dispute. A partial unique index on
// (escrow_id) WHERE status = 'open' enforces at most one open dispute
// per escrow.
func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO disputes (escrow_id, intent_id, dispute_address, disputer_user_id, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, d.EscrowID, d.IntentID, d.DisputeAddress, d.DisputerUserID, d.Reason, d.Status).
		Scan(&d.ID, &d.CreatedAt)
	if isUniqueViolation(err) {
		return errs.Duplicatef("an open dispute already exists for intent %s", d.IntentID)
	}
	return err
}

// GetByIntentID returns the most recent dispute for an intent, or
// (nil, nil) when none was ever filed.
func (r *DisputeRepo) GetByIntentID(ctx context.Context, intentID string) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes WHERE intent_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, intentID).Scan(
		&d.ID, &d.EscrowID, &d.IntentID, &d.DisputeAddress, &d.DisputerUserID, &d.Reason,
		&d.Status, &d.Resolution, &d.AgentPercentage, &d.ResolveSignature, &d.CreatedAt, &d.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Resolve records the final resolution. The status guard makes the
// resolution immutable: a second resolve matches zero rows.
func (r *DisputeRepo) Resolve(ctx context.Context, id uuid.UUID, resolution string, agentPercentage *int, signature string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes
		SET status = $1, resolution = $2, agent_percentage = $3, resolve_tx_signature = $4, resolved_at = now()
		WHERE id = $5 AND status = $6
	`, models.DisputeStatusResolved, resolution, agentPercentage, signature, id, models.DisputeStatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.InvalidStatef("dispute %s is not open", id)
	}
	return nil
}
