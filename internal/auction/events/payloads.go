package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event payload types shared between the engine, outbox and gateway packages.

// Event type names as stored in the outbox and published on the bus.
const (
	TypeRoundStarted     = "RoundStarted"
	TypeBidPlaced        = "BidPlaced"
	TypeBidUndone        = "BidUndone"
	TypeRoundSold        = "RoundSold"
	TypeRoundUnsold      = "RoundUnsold"
	TypeAuctionPaused    = "AuctionPaused"
	TypeAuctionResumed   = "AuctionResumed"
	TypeSessionCompleted = "SessionCompleted"
)

// RoundStartedPayload is emitted when a player goes on the block.
type RoundStartedPayload struct {
	LedgerID      string          `json:"ledger_id"`
	PlayerID      string          `json:"player_id"`
	PlayerName    string          `json:"player_name,omitempty"`
	BasePrice     decimal.Decimal `json:"base_price"`
	TimerDuration string          `json:"timer_duration"`
	StartedAt     time.Time       `json:"started_at"`
}

// BidPlacedPayload is emitted for every accepted bid.
type BidPlacedPayload struct {
	LedgerID  string          `json:"ledger_id"`
	BidID     string          `json:"bid_id"`
	TeamID    string          `json:"team_id"`
	Amount    decimal.Decimal `json:"amount"`
	JumpBid   bool            `json:"jump_bid"`
	PlacedAt  time.Time       `json:"placed_at"`
	NextValid decimal.Decimal `json:"next_valid_bid"`
	BidCount  int             `json:"bid_count"`
}

// BidUndonePayload is emitted when the most recent bid is reversed.
type BidUndonePayload struct {
	LedgerID     string          `json:"ledger_id"`
	UndoneBidID  string          `json:"undone_bid_id"`
	TeamID       string          `json:"team_id"`
	RestoredBid  decimal.Decimal `json:"restored_bid"`
	RestoredTeam string          `json:"restored_team,omitempty"`
	UndoneAt     time.Time       `json:"undone_at"`
}

// RoundSoldPayload is emitted when a round finalizes with a winner.
type RoundSoldPayload struct {
	LedgerID      string          `json:"ledger_id"`
	PlayerID      string          `json:"player_id"`
	WinningTeamID string          `json:"winning_team_id"`
	Price         decimal.Decimal `json:"price"`
	SoldAt        time.Time       `json:"sold_at"`
}

// RoundUnsoldPayload is emitted when a round finalizes without a winner.
type RoundUnsoldPayload struct {
	LedgerID string    `json:"ledger_id"`
	PlayerID string    `json:"player_id"`
	ClosedAt time.Time `json:"closed_at"`
}

// AuctionPausedPayload is emitted when the auctioneer pauses a live round.
type AuctionPausedPayload struct {
	LedgerID  string        `json:"ledger_id"`
	Remaining time.Duration `json:"remaining"`
	PausedAt  time.Time     `json:"paused_at"`
}

// AuctionResumedPayload is emitted when a paused round resumes.
type AuctionResumedPayload struct {
	LedgerID  string        `json:"ledger_id"`
	Remaining time.Duration `json:"remaining"`
	ResumedAt time.Time     `json:"resumed_at"`
}

// SessionCompletedPayload is emitted when the player queue is exhausted or
// the session is terminated.
type SessionCompletedPayload struct {
	SessionID    string    `json:"session_id"`
	PlayersSold  int       `json:"players_sold"`
	PlayersTotal int       `json:"players_total"`
	CompletedAt  time.Time `json:"completed_at"`
}
