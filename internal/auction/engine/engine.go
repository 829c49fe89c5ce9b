// Package engine exposes the auction operations consumed by the
// presentation layer: start round, bid, undo, sell, unsold, pause, resume
// and read-only state snapshots, all keyed by session ID. One live round
// controller exists per session; cross-session auctions run independently.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/auction/events"
	"github.com/gavel-io/gavel/internal/auction/round"
	"github.com/gavel-io/gavel/internal/models"
)

// Store is the persistence surface the engine and its controllers share.
type Store interface {
	round.Store
	GetLedger(ctx context.Context, id uuid.UUID) (*models.Ledger, error)
	DemoteLedger(ctx context.Context, ledger *models.Ledger) error
}

// Sessions defines what the engine needs from the session app.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.AuctionSession, error)
	NextPlayer(ctx context.Context, session *models.AuctionSession) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	CompleteSession(ctx context.Context, id uuid.UUID) error
	ActiveSessions(ctx context.Context) ([]*models.AuctionSession, error)
	ShuffleRemaining(ctx context.Context, session *models.AuctionSession) (*models.AuctionSession, error)
}

// Purses defines what the engine needs from the team purse ledger.
type Purses interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ListTeams(ctx context.Context, ids []uuid.UUID) ([]*models.Team, error)
}

// Snapshot is the read-only view served to displays and pollers.
type Snapshot struct {
	Session       *models.AuctionSession `json:"session"`
	Ledger        *models.Ledger         `json:"ledger,omitempty"`
	NextValidBid  *decimal.Decimal       `json:"next_valid_bid,omitempty"`
	RemainingTime time.Duration          `json:"remaining_time"`
	Teams         []*models.Team         `json:"teams"`
}

// Engine routes operations to per-session round controllers.
type Engine struct {
	store    Store
	sessions Sessions
	purses   Purses
	sink     round.EventSink
	clock    clockwork.Clock

	mu          sync.Mutex
	controllers map[uuid.UUID]*round.Controller
}

// New creates an Engine.
func New(store Store, sessions Sessions, purses Purses, sink round.EventSink, clock clockwork.Clock) *Engine {
	return &Engine{
		store:       store,
		sessions:    sessions,
		purses:      purses,
		sink:        sink,
		clock:       clock,
		controllers: make(map[uuid.UUID]*round.Controller),
	}
}

// StartRound pulls the next queued player and takes their round live.
func (e *Engine) StartRound(ctx context.Context, sessionID uuid.UUID) (*models.Ledger, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, bidding.Reject(bidding.ReasonQueueExhausted, "session is %s", session.Status)
	}

	player, err := e.sessions.NextPlayer(ctx, session)
	if err != nil {
		return nil, err
	}

	ctrl := e.controllerFor(session)
	// A recovered round is already sitting in READY; take it live as is.
	if ledger, _ := ctrl.Snapshot(); ledger == nil || ledger.State.Terminal() {
		if _, err := ctrl.OpenRound(ctx, player); err != nil {
			return nil, err
		}
	}
	return ctrl.Start(ctx)
}

// PlaceBid applies one bid to the session's live round.
func (e *Engine) PlaceBid(ctx context.Context, sessionID, teamID uuid.UUID, amount decimal.Decimal, isJump bool) (*models.Ledger, error) {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return nil, err
	}
	return ctrl.PlaceBid(ctx, teamID, amount, isJump)
}

// UndoLastBid reverses the most recent bid of the session's live round.
func (e *Engine) UndoLastBid(ctx context.Context, sessionID, requestingTeamID uuid.UUID) (*models.Ledger, error) {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return nil, err
	}
	return ctrl.UndoLastBid(ctx, requestingTeamID)
}

// Sell finalizes the session's live round to the highest bidder.
func (e *Engine) Sell(ctx context.Context, sessionID uuid.UUID) (*round.FinalizedResult, error) {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return nil, err
	}
	return ctrl.Sell(ctx)
}

// MarkUnsold finalizes the session's live round without a winner.
func (e *Engine) MarkUnsold(ctx context.Context, sessionID uuid.UUID) (*round.FinalizedResult, error) {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return nil, err
	}
	return ctrl.MarkUnsold(ctx)
}

// Pause freezes the session's live round.
func (e *Engine) Pause(ctx context.Context, sessionID uuid.UUID) error {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return err
	}
	return ctrl.Pause(ctx)
}

// Resume continues the session's paused round.
func (e *Engine) Resume(ctx context.Context, sessionID uuid.UUID) error {
	ctrl, err := e.activeController(sessionID)
	if err != nil {
		return err
	}
	return ctrl.Resume(ctx)
}

// ShuffleRemaining reorders the not-yet-auctioned players. Refused while a
// round is live or paused.
func (e *Engine) ShuffleRemaining(ctx context.Context, sessionID uuid.UUID) (*models.AuctionSession, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ctrl := e.lookupController(sessionID); ctrl != nil {
		if ledger, _ := ctrl.Snapshot(); ledger != nil && ledger.State.Active() {
			return nil, bidding.Reject(bidding.ReasonRoundNotActive, "cannot shuffle while a round is in progress")
		}
	}
	return e.sessions.ShuffleRemaining(ctx, session)
}

// Terminate completes a session early, discarding the unauctioned queue.
// Refused while a round is live or paused.
func (e *Engine) Terminate(ctx context.Context, sessionID uuid.UUID) error {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionStatusActive {
		return nil
	}
	if ctrl := e.lookupController(sessionID); ctrl != nil {
		if ledger, _ := ctrl.Snapshot(); ledger != nil && ledger.State.Active() {
			return bidding.Reject(bidding.ReasonRoundNotActive, "cannot terminate while a round is in progress")
		}
	}
	if err := e.sessions.CompleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.emitSessionCompleted(ctx, session)
	return nil
}

// GetState returns a consistent read-only snapshot of the session, its
// current ledger, the remaining countdown and every team's purse.
func (e *Engine) GetState(ctx context.Context, sessionID uuid.UUID) (*Snapshot, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Session: session}
	if ctrl := e.lookupController(sessionID); ctrl != nil {
		snap.Ledger, snap.RemainingTime = ctrl.Snapshot()
	} else if session.CurrentLedgerID != nil {
		ledger, err := e.store.GetLedger(ctx, *session.CurrentLedgerID)
		if err != nil {
			return nil, err
		}
		snap.Ledger = ledger
	}
	if snap.Ledger != nil && !snap.Ledger.State.Terminal() {
		next := bidding.MinimumRaise(snap.Ledger.CurrentBid, session.Rules.Slabs)
		snap.NextValidBid = &next
	}

	teams, err := e.purses.ListTeams(ctx, session.TeamIDs)
	if err != nil {
		return nil, err
	}
	snap.Teams = teams
	return snap, nil
}

// Recover reloads active sessions after a restart. An in-flight LIVE or
// PAUSED round is demoted back to READY, never silently resurrected into a
// running countdown or a SOLD state.
func (e *Engine) Recover(ctx context.Context) error {
	sessions, err := e.sessions.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if session.CurrentLedgerID == nil {
			continue
		}
		ledger, err := e.store.GetLedger(ctx, *session.CurrentLedgerID)
		if err != nil {
			return err
		}
		if ledger.State.Terminal() {
			continue
		}

		demoted := ledger.Clone()
		demoted.State = models.RoundStateReady
		demoted.CurrentBid = demoted.BasePrice
		demoted.HighestBidder = nil
		demoted.Bids = nil
		demoted.TimerStartedAt = nil
		if err := e.store.DemoteLedger(ctx, demoted); err != nil {
			return err
		}

		player, err := e.sessions.GetPlayer(ctx, demoted.PlayerID)
		if err != nil {
			return err
		}
		e.controllerFor(session).AdoptRound(demoted, player)

		log.Info().
			Str("session_id", session.ID.String()).
			Str("ledger_id", demoted.ID.String()).
			Str("player_id", demoted.PlayerID.String()).
			Msg("recovered in-flight round back to READY")
	}
	return nil
}

// controllerFor returns the session's controller, creating it on first use.
func (e *Engine) controllerFor(session *models.AuctionSession) *round.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctrl, ok := e.controllers[session.ID]; ok {
		return ctrl
	}
	sessionID := session.ID
	ctrl := round.NewController(sessionID, session.Rules, e.store, e.purses, e.sink, e.clock, func(res *round.FinalizedResult) {
		e.handleFinalized(sessionID, res)
	})
	e.controllers[sessionID] = ctrl
	return ctrl
}

func (e *Engine) lookupController(sessionID uuid.UUID) *round.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controllers[sessionID]
}

// activeController resolves the controller for mutating round actions.
func (e *Engine) activeController(sessionID uuid.UUID) (*round.Controller, error) {
	if ctrl := e.lookupController(sessionID); ctrl != nil {
		return ctrl, nil
	}
	return nil, bidding.Reject(bidding.ReasonRoundNotActive, "no round in progress for session %s", sessionID)
}

// handleFinalized runs after every terminal round transition and completes
// the session once the queue is exhausted.
func (e *Engine) handleFinalized(sessionID uuid.UUID, res *round.FinalizedResult) {
	ctx := context.Background()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to reload session after finalization")
		return
	}
	if session.Status != models.SessionStatusActive || len(session.RemainingPlayers()) > 0 {
		return
	}
	if err := e.sessions.CompleteSession(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to complete exhausted session")
		return
	}
	session.Status = models.SessionStatusCompleted
	e.emitSessionCompleted(ctx, session)
}

func (e *Engine) emitSessionCompleted(ctx context.Context, session *models.AuctionSession) {
	if e.sink == nil {
		return
	}
	payload, err := json.Marshal(events.SessionCompletedPayload{
		SessionID:    session.ID.String(),
		PlayersSold:  len(session.CompletedPlayerIDs),
		PlayersTotal: len(session.PlayerQueue),
		CompletedAt:  e.clock.Now(),
	})
	if err != nil {
		return
	}
	if err := e.sink.Insert(ctx, session.ID, events.TypeSessionCompleted, payload); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to insert session completed event")
	}
}
