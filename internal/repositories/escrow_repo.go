package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
)

const escrowColumns = `id, intent_id, agent_id, escrow_address, amount_lamports, status,
       deposit_tx_signature, release_tx_signature, refund_tx_signature,
       created_at, updated_at`

const escrowColumnsQualified = `e.id, e.intent_id, e.agent_id, e.escrow_address, e.amount_lamports, e.status,
       e.deposit_tx_signature, e.release_tx_signature, e.refund_tx_signature,
       e.created_at, e.updated_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Create inserts the record mirror for a freshly funded escrow. The
// unique index on intent_id guarantees one record per intent.
func (r *EscrowRepo) Create(ctx context.Context, e *models.EscrowRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrows (intent_id, agent_id, escrow_address, amount_lamports, status, deposit_tx_signature)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, e.IntentID, e.AgentID, e.EscrowAddress, e.AmountLamports, e.Status, e.DepositSignature).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.Duplicatef("escrow record already exists for intent %s", e.IntentID)
	}
	return err
}

// UpdateStatus moves the record to newStatus and stores the signature
// into the column matching the transition. This store does not validate
// transition legality — the orchestrator owns that — so the row doubles
// as an audit trail of whatever was attempted upstream.
func (r *EscrowRepo) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string, signature *string) error {
	var column string
	switch newStatus {
	case models.EscrowStatusCompleted, models.EscrowStatusSplit:
		column = "release_tx_signature"
	case models.EscrowStatusRefunded:
		column = "refund_tx_signature"
	}

	var tag pgconn.CommandTag
	var err error
	if column == "" || signature == nil {
		tag, err = r.pool.Exec(ctx, `
			UPDATE escrows SET status = $1, updated_at = now() WHERE id = $2
		`, newStatus, id)
	} else {
		tag, err = r.pool.Exec(ctx, `
			UPDATE escrows SET status = $1, `+column+` = $2, updated_at = now() WHERE id = $3
		`, newStatus, *signature, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundf("escrow record %s", id)
	}
	return nil
}

// GetByIntentID returns (nil, nil) when no record exists — a normal
// outcome for an intent that was never funded.
func (r *EscrowRepo) GetByIntentID(ctx context.Context, intentID string) (*models.EscrowRecord, error) {
	var e models.EscrowRecord
	err := r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE intent_id = $1
	`, intentID).Scan(
		&e.ID, &e.IntentID, &e.AgentID, &e.EscrowAddress, &e.AmountLamports, &e.Status,
		&e.DepositSignature, &e.ReleaseSignature, &e.RefundSignature,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListForUser returns escrows where the user owns the intent or owns
// the agent, newest first. Both joins are by primary key, so each
// escrow appears once.
func (r *EscrowRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EscrowRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumnsQualified+`
		FROM escrows e
		JOIN intents i ON i.id = e.intent_id
		JOIN agents a ON a.id = e.agent_id
		WHERE i.user_id = $1 OR a.user_id = $1
		ORDER BY e.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.EscrowRecord
	for rows.Next() {
		var e models.EscrowRecord
		if err := rows.Scan(
			&e.ID, &e.IntentID, &e.AgentID, &e.EscrowAddress, &e.AmountLamports, &e.Status,
			&e.DepositSignature, &e.ReleaseSignature, &e.RefundSignature,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

// ListNonTerminal returns records the reconciler still needs to watch.
func (r *EscrowRepo) ListNonTerminal(ctx context.Context, limit int) ([]models.EscrowRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = ANY($1)
		ORDER BY updated_at ASC
		LIMIT $2
	`, []string{models.EscrowStatusActive, models.EscrowStatusDisputed}, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.EscrowRecord
	for rows.Next() {
		var e models.EscrowRecord
		if err := rows.Scan(
			&e.ID, &e.IntentID, &e.AgentID, &e.EscrowAddress, &e.AmountLamports, &e.Status,
			&e.DepositSignature, &e.ReleaseSignature, &e.RefundSignature,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
