// Package repository is the Postgres persistence layer for sessions,
// ledgers, teams, players and the event outbox. Round finalization is a
// single serializable transaction so the terminal ledger write, the purse
// debit and the session queue advance land together or not at all.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one event to the outbox. The insert trigger notifies the
// relay over the auction_outbox channel.
func (r *Repository) Insert(ctx context.Context, sessionID uuid.UUID, eventType string, payload []byte) error {
	if err := insertOutboxTx(ctx, r.db, sessionID, eventType, payload); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx so outbox inserts can ride inside
// finalize transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOutboxTx(ctx context.Context, ex execer, sessionID uuid.UUID, eventType string, payload []byte) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO auction_outbox (id, session_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), sessionID, eventType, payload,
	)
	return err
}
