// Package round implements the auction round controller: the serialized
// state machine that governs exactly one player's sale at a time.
package round

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/auction/events"
	"github.com/gavel-io/gavel/internal/auction/timer"
	"github.com/gavel-io/gavel/internal/models"
)

// ErrAlreadyFinalized is returned by the store when a finalization hits a
// ledger that is already terminal. The controller treats it as an idempotent
// success.
var ErrAlreadyFinalized = errors.New("round already finalized")

// retryDelay is how long the controller waits before retrying a finalization
// that failed on a durability error after timer expiry.
const retryDelay = 2 * time.Second

// Store defines what the controller needs from persistence. Finalize
// operations are atomic: the ledger terminal write, the purse debit and the
// outbox event either all commit or none of them are visible.
type Store interface {
	CreateLedger(ctx context.Context, ledger *models.Ledger) error
	SaveLedgerState(ctx context.Context, ledger *models.Ledger) error
	AppendBid(ctx context.Context, ledger *models.Ledger, entry models.BidEntry, eventPayload []byte) error
	RemoveBid(ctx context.Context, ledger *models.Ledger, bidID uuid.UUID, eventPayload []byte) error
	FinalizeSold(ctx context.Context, ledger *models.Ledger, teamID uuid.UUID, price decimal.Decimal, eventPayload []byte) error
	FinalizeUnsold(ctx context.Context, ledger *models.Ledger, eventPayload []byte) error
}

// TeamPurse defines what the controller needs from the purse ledger at bid
// time. Debits happen inside Store finalization, never here.
type TeamPurse interface {
	GetTeam(ctx context.Context, teamID uuid.UUID) (*models.Team, error)
}

// EventSink receives non-finalization domain events. Finalization events go
// through the Store so they share the finalization transaction.
type EventSink interface {
	Insert(ctx context.Context, sessionID uuid.UUID, eventType string, payload []byte) error
}

// FinalizedResult is the outcome of a SOLD or UNSOLD transition.
type FinalizedResult struct {
	Ledger        *models.Ledger  `json:"ledger"`
	PlayerID      uuid.UUID       `json:"player_id"`
	Sold          bool            `json:"sold"`
	WinningTeamID *uuid.UUID      `json:"winning_team_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	FinalizedAt   time.Time       `json:"finalized_at"`
}

// Controller owns one session's active round: the ledger, the countdown and
// the serialization lock. All mutating actions (bid, undo, sell, unsold,
// timer expiry) are processed strictly one at a time; a request that loses
// the race is re-evaluated against post-mutation state.
type Controller struct {
	sessionID   uuid.UUID
	rules       models.AuctionRules
	store       Store
	purse       TeamPurse
	sink        EventSink
	clock       clockwork.Clock
	timer       *timer.RoundTimer
	onFinalized func(res *FinalizedResult)

	mu         sync.Mutex
	ledger     *models.Ledger
	player     *models.Player
	undoneLast bool
	lastResult *FinalizedResult
}

// NewController creates a controller for one session. onFinalized runs on its
// own goroutine after every terminal transition; it may call back into the
// controller.
func NewController(sessionID uuid.UUID, rules models.AuctionRules, store Store, purse TeamPurse, sink EventSink, clock clockwork.Clock, onFinalized func(res *FinalizedResult)) *Controller {
	c := &Controller{
		sessionID:   sessionID,
		rules:       rules,
		store:       store,
		purse:       purse,
		sink:        sink,
		clock:       clock,
		onFinalized: onFinalized,
	}
	c.timer = timer.New(clock, c.handleExpiry)
	return c
}

// OpenRound puts the next player on the block: IDLE -> READY, ledger created
// at the player's base price with no bidder.
func (c *Controller) OpenRound(ctx context.Context, player *models.Player) (*models.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger != nil && !c.ledger.State.Terminal() {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "a round is already in progress for player %s", c.ledger.PlayerID)
	}

	now := c.clock.Now()
	ledger := &models.Ledger{
		ID:            uuid.New(),
		SessionID:     c.sessionID,
		PlayerID:      player.ID,
		BasePrice:     player.BasePrice,
		CurrentBid:    player.BasePrice,
		State:         models.RoundStateReady,
		TimerDuration: c.rules.TimerDuration,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateLedger(ctx, ledger); err != nil {
		return nil, err
	}

	c.ledger = ledger
	c.player = player
	c.undoneLast = false
	c.lastResult = nil

	log.Info().
		Str("session_id", c.sessionID.String()).
		Str("ledger_id", ledger.ID.String()).
		Str("player_id", player.ID.String()).
		Str("base_price", player.BasePrice.String()).
		Msg("round opened")

	return ledger.Clone(), nil
}

// AdoptRound installs a recovered ledger after a process restart. The
// ledger must already have been demoted to READY by the store; the round is
// re-run from the base price rather than resurrected mid-countdown.
func (c *Controller) AdoptRound(ledger *models.Ledger, player *models.Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger = ledger.Clone()
	c.player = player
	c.undoneLast = false
	c.lastResult = nil
}

// Start takes the round live: READY -> LIVE, countdown started.
func (c *Controller) Start(ctx context.Context) (*models.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger == nil || c.ledger.State != models.RoundStateReady {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no round is ready to start")
	}

	now := c.clock.Now()
	next := c.ledger.Clone()
	next.State = models.RoundStateLive
	next.TimerStartedAt = &now
	next.UpdatedAt = now
	if err := c.store.SaveLedgerState(ctx, next); err != nil {
		return nil, err
	}

	c.ledger = next
	c.timer.Start(c.rules.TimerDuration)

	c.emit(ctx, events.TypeRoundStarted, events.RoundStartedPayload{
		LedgerID:      next.ID.String(),
		PlayerID:      next.PlayerID.String(),
		PlayerName:    c.player.Name,
		BasePrice:     next.BasePrice,
		TimerDuration: c.rules.TimerDuration.String(),
		StartedAt:     now,
	})

	log.Info().
		Str("ledger_id", next.ID.String()).
		Dur("timer", c.rules.TimerDuration).
		Msg("round live")

	return next.Clone(), nil
}

// PlaceBid validates and applies one bid. Accepted bids append to the
// history, raise the current bid and restart the countdown.
func (c *Controller) PlaceBid(ctx context.Context, teamID uuid.UUID, amount decimal.Decimal, isJump bool) (*models.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger == nil || c.ledger.State.Terminal() {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no active round")
	}
	if c.ledger.State != models.RoundStateLive {
		return nil, c.notLive("bids are only accepted while the round is live")
	}

	team, err := c.purse.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if err := bidding.Validate(amount, c.ledger.CurrentBid, c.rules.Slabs, team.PurseRemaining, isJump, c.rules.AllowJumpBids); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	entry := models.BidEntry{
		ID:       uuid.New(),
		TeamID:   teamID,
		Amount:   amount,
		PlacedAt: now,
		JumpBid:  isJump && c.rules.AllowJumpBids,
	}

	next := c.ledger.Clone()
	next.Bids = append(next.Bids, entry)
	next.CurrentBid = amount
	next.HighestBidder = &teamID
	next.TimerStartedAt = &now
	next.UpdatedAt = now

	payload := mustMarshal(events.BidPlacedPayload{
		LedgerID:  next.ID.String(),
		BidID:     entry.ID.String(),
		TeamID:    teamID.String(),
		Amount:    amount,
		JumpBid:   entry.JumpBid,
		PlacedAt:  now,
		NextValid: bidding.MinimumRaise(amount, c.rules.Slabs),
		BidCount:  len(next.Bids),
	})
	if err := c.store.AppendBid(ctx, next, entry, payload); err != nil {
		return nil, err
	}

	c.ledger = next
	c.undoneLast = false
	c.timer.Restart(c.rules.TimerDuration)

	log.Info().
		Str("ledger_id", next.ID.String()).
		Str("team_id", teamID.String()).
		Str("amount", amount.String()).
		Bool("jump", entry.JumpBid).
		Int("bid_count", len(next.Bids)).
		Msg("bid accepted")

	return next.Clone(), nil
}

// UndoLastBid reverses the most recent bid: once per bid, only while LIVE,
// only within the undo window measured from the bid's own timestamp against
// the wall clock (the window survives pause). The countdown is not restarted;
// undo is a correction, not a new bid event. requestingTeamID must be the
// team that placed the bid; uuid.Nil marks an auctioneer-initiated undo.
func (c *Controller) UndoLastBid(ctx context.Context, requestingTeamID uuid.UUID) (*models.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger == nil || c.ledger.State.Terminal() {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no active round")
	}
	if c.ledger.State != models.RoundStateLive {
		return nil, c.notLive("undo is only allowed while the round is live")
	}

	last := c.ledger.LastBid()
	if last == nil {
		return nil, bidding.Reject(bidding.ReasonNoBidToUndo, "no bid to undo")
	}
	if c.undoneLast {
		return nil, bidding.Reject(bidding.ReasonNoBidToUndo, "the current highest bid was restored by an undo")
	}
	if requestingTeamID != uuid.Nil && requestingTeamID != last.TeamID {
		return nil, bidding.Reject(bidding.ReasonNotHighestBidder, "only the highest bidder may undo the last bid")
	}
	if c.clock.Now().Sub(last.PlacedAt) > c.rules.UndoWindow {
		return nil, bidding.Reject(bidding.ReasonUndoWindowExpired, "undo window of %s has expired", c.rules.UndoWindow)
	}

	now := c.clock.Now()
	next := c.ledger.Clone()
	undone := next.Bids[len(next.Bids)-1]
	next.Bids = next.Bids[:len(next.Bids)-1]
	restoredTeam := ""
	if prev := next.LastBid(); prev != nil {
		next.CurrentBid = prev.Amount
		teamID := prev.TeamID
		next.HighestBidder = &teamID
		restoredTeam = teamID.String()
	} else {
		next.CurrentBid = next.BasePrice
		next.HighestBidder = nil
	}
	next.UpdatedAt = now

	payload := mustMarshal(events.BidUndonePayload{
		LedgerID:     next.ID.String(),
		UndoneBidID:  undone.ID.String(),
		TeamID:       undone.TeamID.String(),
		RestoredBid:  next.CurrentBid,
		RestoredTeam: restoredTeam,
		UndoneAt:     now,
	})
	if err := c.store.RemoveBid(ctx, next, undone.ID, payload); err != nil {
		return nil, err
	}

	c.ledger = next
	c.undoneLast = true

	log.Info().
		Str("ledger_id", next.ID.String()).
		Str("undone_bid_id", undone.ID.String()).
		Str("restored_bid", next.CurrentBid.String()).
		Msg("bid undone")

	return next.Clone(), nil
}

// Sell finalizes the round to the highest bidder. Calling Sell on an
// already-SOLD round returns the stored result without touching the purse.
func (c *Controller) Sell(ctx context.Context) (*FinalizedResult, error) {
	c.mu.Lock()
	res, err := c.sellLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		c.notifyFinalized(res)
	}
	return res, err
}

func (c *Controller) sellLocked(ctx context.Context) (*FinalizedResult, error) {
	if c.ledger == nil {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no round in progress")
	}
	if c.ledger.State == models.RoundStateSold && c.lastResult != nil {
		return c.lastResult, nil
	}
	if c.ledger.State != models.RoundStateLive {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "round is %s", c.ledger.State)
	}
	if c.ledger.HighestBidder == nil {
		return nil, bidding.Reject(bidding.ReasonNotHighestBidder, "no highest bidder to sell to")
	}
	return c.finalizeLocked(ctx, true)
}

// MarkUnsold finalizes the round without a winner. No purse is touched.
// Calling it on an already-UNSOLD round returns the stored result.
func (c *Controller) MarkUnsold(ctx context.Context) (*FinalizedResult, error) {
	c.mu.Lock()
	res, err := c.markUnsoldLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		c.notifyFinalized(res)
	}
	return res, err
}

func (c *Controller) markUnsoldLocked(ctx context.Context) (*FinalizedResult, error) {
	if c.ledger == nil {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no round in progress")
	}
	if c.ledger.State == models.RoundStateUnsold && c.lastResult != nil {
		return c.lastResult, nil
	}
	if c.ledger.State != models.RoundStateLive {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "round is %s", c.ledger.State)
	}
	return c.finalizeLocked(ctx, false)
}

// Pause freezes a live round and its countdown.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ledger == nil || c.ledger.State != models.RoundStateLive {
		return c.notLive("only a live round can be paused")
	}

	now := c.clock.Now()
	next := c.ledger.Clone()
	next.State = models.RoundStatePaused
	next.UpdatedAt = now
	if err := c.store.SaveLedgerState(ctx, next); err != nil {
		return err
	}

	c.ledger = next
	c.timer.Pause()

	c.emit(ctx, events.TypeAuctionPaused, events.AuctionPausedPayload{
		LedgerID:  next.ID.String(),
		Remaining: c.timer.Remaining(),
		PausedAt:  now,
	})
	log.Info().Str("ledger_id", next.ID.String()).Dur("remaining", c.timer.Remaining()).Msg("round paused")
	return nil
}

// Resume continues a paused round; the countdown picks up the frozen
// remaining duration.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	res, err := c.resumeLocked(ctx)
	c.mu.Unlock()
	if res != nil {
		c.notifyFinalized(res)
	}
	return err
}

func (c *Controller) resumeLocked(ctx context.Context) (*FinalizedResult, error) {
	if c.ledger == nil || c.ledger.State != models.RoundStatePaused {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "only a paused round can be resumed")
	}

	now := c.clock.Now()
	next := c.ledger.Clone()
	next.State = models.RoundStateLive
	next.UpdatedAt = now
	if err := c.store.SaveLedgerState(ctx, next); err != nil {
		return nil, err
	}

	c.ledger = next
	armed := c.timer.Running()
	if armed {
		c.timer.Resume()
	}

	c.emit(ctx, events.TypeAuctionResumed, events.AuctionResumedPayload{
		LedgerID:  next.ID.String(),
		Remaining: c.timer.Remaining(),
		ResumedAt: now,
	})
	log.Info().Str("ledger_id", next.ID.String()).Dur("remaining", c.timer.Remaining()).Msg("round resumed")

	if armed {
		return nil, nil
	}

	// The countdown expired in the same instant the round was paused and
	// the pause swallowed the expiry. The frozen remaining time is zero,
	// so the round finalizes now instead of staying live forever.
	res, err := c.finalizeLocked(ctx, next.HighestBidder != nil)
	if err != nil {
		log.Error().Err(err).
			Str("ledger_id", next.ID.String()).
			Dur("retry_in", retryDelay).
			Msg("finalization on resume failed; retrying")
		c.timer.Start(retryDelay)
		return nil, nil
	}
	return res, nil
}

// Snapshot returns a read-only copy of the ledger and the remaining
// countdown. Returns nil when no round has been opened.
func (c *Controller) Snapshot() (*models.Ledger, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ledger == nil {
		return nil, 0
	}
	return c.ledger.Clone(), c.timer.Remaining()
}

// handleExpiry runs when the countdown fires: SOLD if a highest bidder
// exists, UNSOLD otherwise. A durability failure leaves the round LIVE and
// re-arms a short retry countdown.
func (c *Controller) handleExpiry() {
	ctx := context.Background()

	c.mu.Lock()
	if c.timer.Running() {
		// A bid re-armed the countdown while this expiry was waiting for
		// the lock; the fired countdown is stale.
		c.mu.Unlock()
		return
	}
	if c.ledger == nil || c.ledger.State != models.RoundStateLive {
		c.mu.Unlock()
		return
	}
	sold := c.ledger.HighestBidder != nil
	res, err := c.finalizeLocked(ctx, sold)
	if err != nil {
		log.Error().Err(err).
			Str("ledger_id", c.ledger.ID.String()).
			Dur("retry_in", retryDelay).
			Msg("finalization after expiry failed; retrying")
		c.timer.Start(retryDelay)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.notifyFinalized(res)
}

// finalizeLocked performs the terminal transition. Caller holds c.mu and has
// verified the round is LIVE. The store call is atomic: ledger terminal
// write, purse debit (for sales) and outbox event commit together or not at
// all; on error the in-memory ledger stays LIVE for retry.
func (c *Controller) finalizeLocked(ctx context.Context, sold bool) (*FinalizedResult, error) {
	now := c.clock.Now()
	next := c.ledger.Clone()
	next.UpdatedAt = now

	var err error
	if sold {
		next.State = models.RoundStateSold
		winner := *next.HighestBidder
		payload := mustMarshal(events.RoundSoldPayload{
			LedgerID:      next.ID.String(),
			PlayerID:      next.PlayerID.String(),
			WinningTeamID: winner.String(),
			Price:         next.CurrentBid,
			SoldAt:        now,
		})
		err = c.store.FinalizeSold(ctx, next, winner, next.CurrentBid, payload)
	} else {
		next.State = models.RoundStateUnsold
		payload := mustMarshal(events.RoundUnsoldPayload{
			LedgerID: next.ID.String(),
			PlayerID: next.PlayerID.String(),
			ClosedAt: now,
		})
		err = c.store.FinalizeUnsold(ctx, next, payload)
	}
	if err != nil && !errors.Is(err, ErrAlreadyFinalized) {
		return nil, err
	}

	c.ledger = next
	c.timer.Cancel()

	res := &FinalizedResult{
		Ledger:      next.Clone(),
		PlayerID:    next.PlayerID,
		Sold:        sold,
		Price:       next.CurrentBid,
		FinalizedAt: now,
	}
	if sold {
		winner := *next.HighestBidder
		res.WinningTeamID = &winner
	}
	c.lastResult = res

	log.Info().
		Str("ledger_id", next.ID.String()).
		Str("player_id", next.PlayerID.String()).
		Bool("sold", sold).
		Str("price", next.CurrentBid.String()).
		Msg("round finalized")

	return res, nil
}

func (c *Controller) notifyFinalized(res *FinalizedResult) {
	if c.onFinalized != nil && res != nil {
		go c.onFinalized(res)
	}
}

// notLive builds an AuctionNotLive rejection carrying retry context.
func (c *Controller) notLive(msg string) *bidding.Rejection {
	rej := bidding.Reject(bidding.ReasonAuctionNotLive, "%s", msg)
	if c.ledger != nil {
		rej.CurrentBid = c.ledger.CurrentBid
		rej.NextValidBid = bidding.MinimumRaise(c.ledger.CurrentBid, c.rules.Slabs)
	}
	return rej
}

func (c *Controller) emit(ctx context.Context, eventType string, payload any) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Insert(ctx, c.sessionID, eventType, mustMarshal(payload)); err != nil {
		// Event delivery is best-effort outside finalization transactions.
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert outbox event")
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
