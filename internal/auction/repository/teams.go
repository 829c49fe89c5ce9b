package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/models"
)

const teamColumns = `id, name, short_name, total_purse, purse_remaining, created_at, updated_at`

// CreateTeam inserts a team.
func (r *Repository) CreateTeam(ctx context.Context, team *models.Team) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teams (`+teamColumns+`)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		team.ID, team.Name, team.ShortName, team.TotalPurse, team.PurseRemaining,
	)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

// GetTeam fetches a team by ID.
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+teamColumns+`
		FROM teams WHERE id = $1`, id)

	var team models.Team
	err := row.Scan(&team.ID, &team.Name, &team.ShortName, &team.TotalPurse, &team.PurseRemaining, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get team %s: %w", id, err)
	}
	return &team, nil
}

// ListTeams fetches the given teams, preserving input order.
func (r *Repository) ListTeams(ctx context.Context, ids []uuid.UUID) ([]*models.Team, error) {
	teams := make([]*models.Team, 0, len(ids))
	for _, id := range ids {
		team, err := r.GetTeam(ctx, id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, nil
}

// CreditTeam adds funds back to a purse. Used by admin corrections only;
// debits happen inside round finalization. A credit can never push the
// purse above its original total.
func (r *Repository) CreditTeam(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams
		SET purse_remaining = purse_remaining + $2, updated_at = now()
		WHERE id = $1 AND purse_remaining + $2 <= total_purse`,
		id, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit team %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("credit refused for team %s: not found or credit exceeds total purse", id)
	}
	return nil
}
