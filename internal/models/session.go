package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus defines the lifecycle status of an auction session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// Fallback rule values used when a session is created without explicit
// rules and no rules file is configured.
const (
	DefaultTimerDuration = 30 * time.Second
	DefaultUndoWindow    = 15 * time.Second
)

// DefaultSlabTable returns the standard increment table: quarter steps up
// to 10, half steps up to 20, whole steps beyond.
func DefaultSlabTable() SlabTable {
	return SlabTable{
		{UpTo: decimal.NewFromInt(10), Increment: decimal.RequireFromString("0.25")},
		{UpTo: decimal.NewFromInt(20), Increment: decimal.RequireFromString("0.5")},
		{Unbounded: true, Increment: decimal.NewFromInt(1)},
	}
}

// AuctionRules holds the configurable bidding policy for a session.
type AuctionRules struct {
	Slabs         SlabTable     `json:"slabs"`
	TimerDuration time.Duration `json:"timer_duration"`
	UndoWindow    time.Duration `json:"undo_window"`
	AllowJumpBids bool          `json:"allow_jump_bids"`
}

// AuctionSession represents one auction: a fixed set of teams and an ordered
// pool of players sold one at a time.
type AuctionSession struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	TeamIDs            []uuid.UUID   `json:"team_ids"`
	PlayerQueue        []uuid.UUID   `json:"player_queue"`
	CompletedPlayerIDs []uuid.UUID   `json:"completed_player_ids"`
	CurrentLedgerID    *uuid.UUID    `json:"current_ledger_id,omitempty"`
	Rules              AuctionRules  `json:"rules"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// RemainingPlayers returns the players still waiting to be auctioned, in
// queue order. The completed set never overlaps the returned slice.
func (s *AuctionSession) RemainingPlayers() []uuid.UUID {
	done := make(map[uuid.UUID]bool, len(s.CompletedPlayerIDs))
	for _, id := range s.CompletedPlayerIDs {
		done[id] = true
	}
	var remaining []uuid.UUID
	for _, id := range s.PlayerQueue {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}
	return remaining
}
