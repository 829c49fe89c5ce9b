package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gavel-io/gavel/internal/models"
	"github.com/gavel-io/gavel/internal/sqlutil"
)

const sessionColumns = `id, name, team_ids, player_queue, completed_player_ids, current_ledger_id, rules, status, created_at, updated_at`

// CreateSession inserts a new session.
func (r *Repository) CreateSession(ctx context.Context, session *models.AuctionSession) error {
	teamIDs, err := json.Marshal(session.TeamIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal team ids: %w", err)
	}
	queue, err := json.Marshal(session.PlayerQueue)
	if err != nil {
		return fmt.Errorf("failed to marshal player queue: %w", err)
	}
	completed, err := json.Marshal(session.CompletedPlayerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal completed players: %w", err)
	}
	rules, err := json.Marshal(session.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal auction rules: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auction_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		session.ID,
		session.Name,
		teamIDs,
		queue,
		completed,
		sqlutil.ToNullUUID(session.CurrentLedgerID),
		rules,
		session.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.AuctionSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM auction_sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return session, nil
}

// UpdateQueue replaces the session's player queue.
func (r *Repository) UpdateQueue(ctx context.Context, id uuid.UUID, queue []uuid.UUID) error {
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("failed to marshal player queue: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE auction_sessions
		SET player_queue = $2, updated_at = now()
		WHERE id = $1`,
		id, queueJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update player queue: %w", err)
	}
	return nil
}

// UpdateSessionStatus moves a session through its lifecycle.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auction_sessions
		SET status = $2, updated_at = now()
		WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// ActiveSessions lists sessions still running, oldest first.
func (r *Repository) ActiveSessions(ctx context.Context) ([]*models.AuctionSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM auction_sessions
		WHERE status = $1
		ORDER BY created_at`, models.SessionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AuctionSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*models.AuctionSession, error) {
	var (
		session         models.AuctionSession
		teamIDs         []byte
		queue           []byte
		completed       []byte
		currentLedgerID uuid.NullUUID
		rules           []byte
	)
	err := row.Scan(
		&session.ID,
		&session.Name,
		&teamIDs,
		&queue,
		&completed,
		&currentLedgerID,
		&rules,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(teamIDs, &session.TeamIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal team ids: %w", err)
	}
	if err := json.Unmarshal(queue, &session.PlayerQueue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player queue: %w", err)
	}
	if err := json.Unmarshal(completed, &session.CompletedPlayerIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed players: %w", err)
	}
	if err := json.Unmarshal(rules, &session.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auction rules: %w", err)
	}
	session.CurrentLedgerID = sqlutil.FromNullUUID(currentLedgerID)
	return &session, nil
}
