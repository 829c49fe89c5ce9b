package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gavel-io/gavel/internal/models"
)

const playerColumns = `id, name, role, base_price, created_at, updated_at`

// CreatePlayer inserts a player into the pool.
func (r *Repository) CreatePlayer(ctx context.Context, player *models.Player) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES ($1, $2, $3, $4, now(), now())`,
		player.ID, player.Name, player.Role, player.BasePrice,
	)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

// GetPlayer fetches a player by ID.
func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+`
		FROM players WHERE id = $1`, id)

	var player models.Player
	err := row.Scan(&player.ID, &player.Name, &player.Role, &player.BasePrice, &player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", id, err)
	}
	return &player, nil
}
