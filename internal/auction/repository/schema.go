package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Bid amounts are NUMERIC. Queues, bid histories and rules are stored as
// jsonb documents; the Go structs are the authoritative shape.
const schema = `
CREATE TABLE IF NOT EXISTS teams (
    id              UUID PRIMARY KEY,
    name            TEXT NOT NULL,
    short_name      TEXT NOT NULL DEFAULT '',
    total_purse     NUMERIC(14,2) NOT NULL,
    purse_remaining NUMERIC(14,2) NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT purse_non_negative CHECK (purse_remaining >= 0),
    CONSTRAINT purse_within_total CHECK (purse_remaining <= total_purse)
);

CREATE TABLE IF NOT EXISTS players (
    id         UUID PRIMARY KEY,
    name       TEXT NOT NULL,
    role       TEXT NOT NULL DEFAULT '',
    base_price NUMERIC(14,2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS auction_sessions (
    id                   UUID PRIMARY KEY,
    name                 TEXT NOT NULL,
    team_ids             JSONB NOT NULL,
    player_queue         JSONB NOT NULL,
    completed_player_ids JSONB NOT NULL DEFAULT '[]',
    current_ledger_id    UUID,
    rules                JSONB NOT NULL,
    status               TEXT NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bid_ledgers (
    id               UUID PRIMARY KEY,
    session_id       UUID NOT NULL REFERENCES auction_sessions(id),
    player_id        UUID NOT NULL REFERENCES players(id),
    base_price       NUMERIC(14,2) NOT NULL,
    current_bid      NUMERIC(14,2) NOT NULL,
    highest_bidder   UUID,
    bids             JSONB NOT NULL DEFAULT '[]',
    state            TEXT NOT NULL,
    timer_started_at TIMESTAMPTZ,
    timer_duration   BIGINT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bid_ledgers_session ON bid_ledgers(session_id);

CREATE TABLE IF NOT EXISTS auction_outbox (
    id         UUID PRIMARY KEY,
    session_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_auction_outbox_unsent ON auction_outbox(created_at) WHERE sent_at IS NULL;

CREATE OR REPLACE FUNCTION notify_auction_outbox() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('auction_outbox', NEW.id::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS auction_outbox_notify ON auction_outbox;
CREATE TRIGGER auction_outbox_notify
    AFTER INSERT ON auction_outbox
    FOR EACH ROW EXECUTE FUNCTION notify_auction_outbox();
`

// EnsureSchema creates the tables, indexes and the outbox notify trigger.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
