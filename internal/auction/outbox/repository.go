package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/gavel-io/gavel/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const outboxColumns = `id, session_id, event_type, payload, created_at, sent_at`

// FetchOutboxByID fetches one unsent outbox event.
func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM auction_outbox
		WHERE id = $1 AND sent_at IS NULL`, id)

	event, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("outbox event not found or already sent")
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return event, nil
}

// FetchUnsentOutbox fetches up to limit unsent events, oldest first.
func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM auction_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// MarkOutboxSent stamps the event so it is never republished by the
// fallback sweep.
func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE auction_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(row rowScanner) (*OutboxEvent, error) {
	var (
		event   OutboxEvent
		payload pqtype.NullRawMessage
		sentAt  sql.NullTime
	)
	err := row.Scan(&event.ID, &event.SessionID, &event.EventType, &payload, &event.CreatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	event.Payload = payload.RawMessage
	event.SentAt = sqlutil.FromSqlTime(sentAt)
	return &event, nil
}
