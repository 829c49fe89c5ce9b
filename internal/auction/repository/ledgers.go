package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/events"
	"github.com/gavel-io/gavel/internal/auction/round"
	"github.com/gavel-io/gavel/internal/models"
	"github.com/gavel-io/gavel/internal/sqlutil"
)

const ledgerColumns = `id, session_id, player_id, base_price, current_bid, highest_bidder, bids, state, timer_started_at, timer_duration, created_at, updated_at`

// CreateLedger inserts the ledger and points the session at it, in one
// transaction.
func (r *Repository) CreateLedger(ctx context.Context, ledger *models.Ledger) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertLedger(ctx, tx, ledger); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE auction_sessions
			SET current_ledger_id = $2, updated_at = now()
			WHERE id = $1`,
			ledger.SessionID, ledger.ID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, ledger *models.Ledger) error {
	bids, err := json.Marshal(ledger.Bids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bid_ledgers (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		ledger.ID,
		ledger.SessionID,
		ledger.PlayerID,
		ledger.BasePrice,
		ledger.CurrentBid,
		sqlutil.ToNullUUID(ledger.HighestBidder),
		bids,
		ledger.State,
		sqlutil.ToSqlTime(ledger.TimerStartedAt),
		int64(ledger.TimerDuration),
	)
	return err
}

// SaveLedgerState persists the full mutable ledger state.
func (r *Repository) SaveLedgerState(ctx context.Context, ledger *models.Ledger) error {
	if err := updateLedger(ctx, r.db, ledger); err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}
	return nil
}

func updateLedger(ctx context.Context, ex execer, ledger *models.Ledger) error {
	bids, err := json.Marshal(ledger.Bids)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE bid_ledgers
		SET current_bid = $2, highest_bidder = $3, bids = $4, state = $5,
		    timer_started_at = $6, updated_at = now()
		WHERE id = $1`,
		ledger.ID,
		ledger.CurrentBid,
		sqlutil.ToNullUUID(ledger.HighestBidder),
		bids,
		ledger.State,
		sqlutil.ToSqlTime(ledger.TimerStartedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ledger %s not found", ledger.ID)
	}
	return nil
}

// AppendBid persists the post-bid ledger together with its outbox event.
func (r *Repository) AppendBid(ctx context.Context, ledger *models.Ledger, entry models.BidEntry, eventPayload []byte) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateLedger(ctx, tx, ledger); err != nil {
			return err
		}
		return insertOutboxTx(ctx, tx, ledger.SessionID, events.TypeBidPlaced, eventPayload)
	})
	if err != nil {
		return fmt.Errorf("failed to append bid %s: %w", entry.ID, err)
	}
	return nil
}

// RemoveBid persists the post-undo ledger together with its outbox event.
func (r *Repository) RemoveBid(ctx context.Context, ledger *models.Ledger, bidID uuid.UUID, eventPayload []byte) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateLedger(ctx, tx, ledger); err != nil {
			return err
		}
		return insertOutboxTx(ctx, tx, ledger.SessionID, events.TypeBidUndone, eventPayload)
	})
	if err != nil {
		return fmt.Errorf("failed to remove bid %s: %w", bidID, err)
	}
	return nil
}

// FinalizeSold writes the SOLD ledger, debits the winner's purse, advances
// the session queue and records the outbox event, all in one serializable
// transaction. A ledger already terminal reports round.ErrAlreadyFinalized.
func (r *Repository) FinalizeSold(ctx context.Context, ledger *models.Ledger, teamID uuid.UUID, price decimal.Decimal, eventPayload []byte) error {
	err := sqlutil.RunSerializable(ctx, r.db, func(tx *sql.Tx) error {
		if err := finalizeLedgerTx(ctx, tx, ledger); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE teams
			SET purse_remaining = purse_remaining - $2, updated_at = now()
			WHERE id = $1 AND purse_remaining >= $2`,
			teamID, price,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("purse debit refused for team %s at %s", teamID, price)
		}
		if err := advanceSessionTx(ctx, tx, ledger.SessionID, ledger.PlayerID); err != nil {
			return err
		}
		return insertOutboxTx(ctx, tx, ledger.SessionID, events.TypeRoundSold, eventPayload)
	})
	if err != nil {
		if errors.Is(err, round.ErrAlreadyFinalized) {
			return round.ErrAlreadyFinalized
		}
		return fmt.Errorf("failed to finalize sold round: %w", err)
	}
	return nil
}

// FinalizeUnsold writes the UNSOLD ledger and advances the session queue.
// No purse is touched.
func (r *Repository) FinalizeUnsold(ctx context.Context, ledger *models.Ledger, eventPayload []byte) error {
	err := sqlutil.RunSerializable(ctx, r.db, func(tx *sql.Tx) error {
		if err := finalizeLedgerTx(ctx, tx, ledger); err != nil {
			return err
		}
		if err := advanceSessionTx(ctx, tx, ledger.SessionID, ledger.PlayerID); err != nil {
			return err
		}
		return insertOutboxTx(ctx, tx, ledger.SessionID, events.TypeRoundUnsold, eventPayload)
	})
	if err != nil {
		if errors.Is(err, round.ErrAlreadyFinalized) {
			return round.ErrAlreadyFinalized
		}
		return fmt.Errorf("failed to finalize unsold round: %w", err)
	}
	return nil
}

// finalizeLedgerTx moves the ledger to its terminal state. The state guard
// makes a second finalize a no-op detected via the current stored state.
func finalizeLedgerTx(ctx context.Context, tx *sql.Tx, ledger *models.Ledger) error {
	bids, err := json.Marshal(ledger.Bids)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE bid_ledgers
		SET current_bid = $2, highest_bidder = $3, bids = $4, state = $5,
		    timer_started_at = NULL, updated_at = now()
		WHERE id = $1 AND state NOT IN ('SOLD', 'UNSOLD')`,
		ledger.ID,
		ledger.CurrentBid,
		sqlutil.ToNullUUID(ledger.HighestBidder),
		bids,
		ledger.State,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM bid_ledgers WHERE id = $1`, ledger.ID).Scan(&state)
		if err != nil {
			return fmt.Errorf("ledger %s not found", ledger.ID)
		}
		if models.RoundState(state).Terminal() {
			return round.ErrAlreadyFinalized
		}
		return fmt.Errorf("ledger %s in unexpected state %s", ledger.ID, state)
	}
	return nil
}

// advanceSessionTx records the finished player and clears the session's
// current ledger pointer.
func advanceSessionTx(ctx context.Context, tx *sql.Tx, sessionID, playerID uuid.UUID) error {
	playerJSON, err := json.Marshal(playerID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE auction_sessions
		SET completed_player_ids = completed_player_ids || $2::jsonb,
		    current_ledger_id = NULL, updated_at = now()
		WHERE id = $1`,
		sessionID, playerJSON,
	)
	return err
}

// GetLedger fetches a ledger by ID.
func (r *Repository) GetLedger(ctx context.Context, id uuid.UUID) (*models.Ledger, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM bid_ledgers WHERE id = $1`, id)

	ledger, err := scanLedger(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger %s: %w", id, err)
	}
	return ledger, nil
}

// DemoteLedger rewrites a recovered ledger back to READY at the base price.
func (r *Repository) DemoteLedger(ctx context.Context, ledger *models.Ledger) error {
	if err := updateLedger(ctx, r.db, ledger); err != nil {
		return fmt.Errorf("failed to demote ledger %s: %w", ledger.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedger(row rowScanner) (*models.Ledger, error) {
	var (
		ledger         models.Ledger
		highestBidder  uuid.NullUUID
		bidsJSON       []byte
		timerStartedAt sql.NullTime
		timerNanos     int64
	)
	err := row.Scan(
		&ledger.ID,
		&ledger.SessionID,
		&ledger.PlayerID,
		&ledger.BasePrice,
		&ledger.CurrentBid,
		&highestBidder,
		&bidsJSON,
		&ledger.State,
		&timerStartedAt,
		&timerNanos,
		&ledger.CreatedAt,
		&ledger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bidsJSON, &ledger.Bids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bid history: %w", err)
	}
	ledger.HighestBidder = sqlutil.FromNullUUID(highestBidder)
	ledger.TimerStartedAt = sqlutil.FromSqlTime(timerStartedAt)
	ledger.TimerDuration = time.Duration(timerNanos)
	return &ledger, nil
}
