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

const intentColumns = `id, user_id, title, description, status, budget_sol, escrow_funded, created_at, updated_at`

type IntentRepo struct {
	pool *pgxpool.Pool
}

func NewIntentRepo(pool *pgxpool.Pool) *IntentRepo {
	return &IntentRepo{pool: pool}
}

func (r *IntentRepo) Create(ctx context.Context, i *models.Intent) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO intents (id, user_id, title, description, status, budget_sol)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, i.ID, i.UserID, i.Title, i.Description, i.Status, i.BudgetSOL).
		Scan(&i.CreatedAt, &i.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.Duplicatef("intent %s already exists", i.ID)
	}
	return err
}

func (r *IntentRepo) GetByID(ctx context.Context, id string) (*models.Intent, error) {
	var i models.Intent
	err := r.pool.QueryRow(ctx, `
		SELECT `+intentColumns+` FROM intents WHERE id = $1
	`, id).Scan(&i.ID, &i.UserID, &i.Title, &i.Description, &i.Status, &i.BudgetSOL, &i.EscrowFunded, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFoundf("intent %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *IntentRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+intentColumns+` FROM intents
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []models.Intent
	for rows.Next() {
		var i models.Intent
		if err := rows.Scan(&i.ID, &i.UserID, &i.Title, &i.Description, &i.Status, &i.BudgetSOL, &i.EscrowFunded, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		intents = append(intents, i)
	}
	return intents, rows.Err()
}

// SetEscrowFunded flags the intent after a confirmed deposit.
func (r *IntentRepo) SetEscrowFunded(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE intents SET escrow_funded = true, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundf("intent %s", id)
	}
	return nil
}

func (r *IntentRepo) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE intents SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundf("intent %s", id)
	}
	return nil
}
