// Package purse is the authoritative team budget ledger. Reads serve bid
// validation and state snapshots; the debit that pays for a sold player is
// executed inside the round finalization transaction by the auction
// repository, never through this app, so a sale and its deduction can only
// land together.
package purse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/models"
)

// Repository defines what the purse app needs from persistence.
type Repository interface {
	CreateTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ListTeams(ctx context.Context, ids []uuid.UUID) ([]*models.Team, error)
	CreditTeam(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// App handles purse business logic.
type App struct {
	repo Repository
}

// NewApp creates a new purse App.
func NewApp(repo Repository) *App {
	return &App{repo: repo}
}

// CreateTeam registers a team with a full purse.
func (a *App) CreateTeam(ctx context.Context, name, shortName string, totalPurse decimal.Decimal) (*models.Team, error) {
	if name == "" {
		return nil, fmt.Errorf("team name is required")
	}
	if !totalPurse.IsPositive() {
		return nil, fmt.Errorf("total purse must be positive")
	}

	team := &models.Team{
		ID:             uuid.New(),
		Name:           name,
		ShortName:      shortName,
		TotalPurse:     totalPurse,
		PurseRemaining: totalPurse,
	}
	if err := a.repo.CreateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	log.Info().
		Str("team_id", team.ID.String()).
		Str("name", name).
		Str("purse", totalPurse.String()).
		Msg("team created")
	return team, nil
}

// GetTeam retrieves one team with its remaining purse.
func (a *App) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, err := a.repo.GetTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}

// ListTeams retrieves the given teams, preserving input order.
func (a *App) ListTeams(ctx context.Context, ids []uuid.UUID) ([]*models.Team, error) {
	teams, err := a.repo.ListTeams(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

// Credit returns funds to a team. This is the administrative correction
// path; normal auction flow only moves money out through finalized sales.
func (a *App) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive")
	}
	if err := a.repo.CreditTeam(ctx, id, amount); err != nil {
		return fmt.Errorf("failed to credit team: %w", err)
	}
	log.Info().
		Str("team_id", id.String()).
		Str("amount", amount.String()).
		Msg("purse credited")
	return nil
}
