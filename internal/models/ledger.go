package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundState defines the state of one player's auction round.
type RoundState string

const (
	RoundStateIdle   RoundState = "IDLE"
	RoundStateReady  RoundState = "READY"
	RoundStateLive   RoundState = "LIVE"
	RoundStatePaused RoundState = "PAUSED"
	RoundStateSold   RoundState = "SOLD"
	RoundStateUnsold RoundState = "UNSOLD"
)

// Terminal reports whether the state is final. A terminal ledger is
// immutable; its bid history is kept for audit.
func (s RoundState) Terminal() bool {
	return s == RoundStateSold || s == RoundStateUnsold
}

// Active reports whether the round is accepting auctioneer actions.
func (s RoundState) Active() bool {
	return s == RoundStateLive || s == RoundStatePaused
}

// BidEntry is one accepted bid. Entries are immutable once appended and
// ordered by acceptance, not by request arrival.
type BidEntry struct {
	ID       uuid.UUID       `json:"id"`
	TeamID   uuid.UUID       `json:"team_id"`
	Amount   decimal.Decimal `json:"amount"`
	PlacedAt time.Time       `json:"placed_at"`
	JumpBid  bool            `json:"jump_bid"`
}

// Ledger is the authoritative record of one player's auction round: the
// current bid, the highest bidder and the full bid history.
type Ledger struct {
	ID             uuid.UUID       `json:"id"`
	SessionID      uuid.UUID       `json:"session_id"`
	PlayerID       uuid.UUID       `json:"player_id"`
	BasePrice      decimal.Decimal `json:"base_price"`
	CurrentBid     decimal.Decimal `json:"current_bid"`
	HighestBidder  *uuid.UUID      `json:"highest_bidder,omitempty"`
	Bids           []BidEntry      `json:"bids"`
	State          RoundState      `json:"state"`
	TimerStartedAt *time.Time      `json:"timer_started_at,omitempty"`
	TimerDuration  time.Duration   `json:"timer_duration"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LastBid returns the most recent accepted bid, or nil if none.
func (l *Ledger) LastBid() *BidEntry {
	if len(l.Bids) == 0 {
		return nil
	}
	return &l.Bids[len(l.Bids)-1]
}

// Clone returns a deep copy safe to hand to readers while the round
// controller keeps mutating the original.
func (l *Ledger) Clone() *Ledger {
	cp := *l
	cp.Bids = make([]BidEntry, len(l.Bids))
	copy(cp.Bids, l.Bids)
	if l.HighestBidder != nil {
		id := *l.HighestBidder
		cp.HighestBidder = &id
	}
	if l.TimerStartedAt != nil {
		t := *l.TimerStartedAt
		cp.TimerStartedAt = &t
	}
	return &cp
}
