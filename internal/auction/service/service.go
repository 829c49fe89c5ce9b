// Package service exposes the auction engine over HTTP. Auctioneer consoles
// drive rounds through it; the gateway reads session snapshots from it.
package service

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/auction/engine"
	"github.com/gavel-io/gavel/internal/auction/session"
	"github.com/gavel-io/gavel/internal/models"
	"github.com/gavel-io/gavel/internal/purse"
)

type Service struct {
	engine       *engine.Engine
	sessions     *session.App
	purses       *purse.App
	defaultRules models.AuctionRules
}

func NewService(eng *engine.Engine, sessions *session.App, purses *purse.App, defaultRules models.AuctionRules) *Service {
	return &Service{
		engine:       eng,
		sessions:     sessions,
		purses:       purses,
		defaultRules: defaultRules,
	}
}

// RegisterRoutes registers the auction HTTP API.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/active", s.handleActiveSessions)
	mux.HandleFunc("GET /api/sessions/{id}/state", s.handleGetState)
	mux.HandleFunc("POST /api/sessions/{id}/rounds/start", s.handleStartRound)
	mux.HandleFunc("POST /api/sessions/{id}/bids", s.handlePlaceBid)
	mux.HandleFunc("POST /api/sessions/{id}/bids/undo", s.handleUndoBid)
	mux.HandleFunc("POST /api/sessions/{id}/rounds/sell", s.handleSell)
	mux.HandleFunc("POST /api/sessions/{id}/rounds/unsold", s.handleMarkUnsold)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/sessions/{id}/shuffle", s.handleShuffle)
	mux.HandleFunc("POST /api/sessions/{id}/terminate", s.handleTerminate)
	mux.HandleFunc("POST /api/players", s.handleCreatePlayer)
	mux.HandleFunc("POST /api/teams", s.handleCreateTeam)
	mux.HandleFunc("GET /api/teams/{id}", s.handleGetTeam)
	log.Info().Msg("auction routes registered")
}

type createSessionRequest struct {
	Name        string              `json:"name"`
	TeamIDs     []uuid.UUID         `json:"team_ids"`
	PlayerQueue []uuid.UUID         `json:"player_queue"`
	Rules       models.AuctionRules `json:"rules"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Rules.Slabs) == 0 {
		req.Rules = s.defaultRules
	}
	sess, err := s.sessions.CreateSession(r.Context(), session.CreateSessionRequest{
		Name:        req.Name,
		TeamIDs:     req.TeamIDs,
		PlayerQueue: req.PlayerQueue,
		Rules:       req.Rules,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Service) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sessionSummary{
			SessionID:        sess.ID.String(),
			Name:             sess.Name,
			Status:           string(sess.Status),
			TotalPlayers:     len(sess.PlayerQueue),
			CompletedPlayers: len(sess.CompletedPlayerIDs),
			TotalTeams:       len(sess.TeamIDs),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

type sessionSummary struct {
	SessionID        string `json:"session_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	TotalPlayers     int    `json:"total_players"`
	CompletedPlayers int    `json:"completed_players"`
	TotalTeams       int    `json:"total_teams"`
}

func (s *Service) handleGetState(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.GetState(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleStartRound(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	ledger, err := s.engine.StartRound(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type placeBidRequest struct {
	TeamID  uuid.UUID       `json:"team_id"`
	Amount  decimal.Decimal `json:"amount"`
	JumpBid bool            `json:"jump_bid"`
}

func (s *Service) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	var req placeBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ledger, err := s.engine.PlaceBid(r.Context(), sessionID, req.TeamID, req.Amount, req.JumpBid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type undoBidRequest struct {
	// TeamID identifies the requester. Empty means the auctioneer, who can
	// undo regardless of who holds the highest bid.
	TeamID *uuid.UUID `json:"team_id,omitempty"`
}

func (s *Service) handleUndoBid(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	var req undoBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	requester := uuid.Nil
	if req.TeamID != nil {
		requester = *req.TeamID
	}
	ledger, err := s.engine.UndoLastBid(r.Context(), sessionID, requester)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (s *Service) handleSell(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Sell(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleMarkUnsold(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MarkUnsold(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Pause(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Resume(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Service) handleShuffle(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.engine.ShuffleRemaining(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Terminate(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

type createPlayerRequest struct {
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	BasePrice decimal.Decimal `json:"base_price"`
}

func (s *Service) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req createPlayerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	player, err := s.sessions.RegisterPlayer(r.Context(), req.Name, req.Role, req.BasePrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

type createTeamRequest struct {
	Name       string          `json:"name"`
	ShortName  string          `json:"short_name"`
	TotalPurse decimal.Decimal `json:"total_purse"`
}

func (s *Service) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	team, err := s.purses.CreateTeam(r.Context(), req.Name, req.ShortName, req.TotalPurse)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Service) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid team id", http.StatusBadRequest)
		return
	}
	team, err := s.purses.GetTeam(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func pathSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps rejections to structured 4xx responses. Anything else is
// an internal error; the message stays server-side.
func writeError(w http.ResponseWriter, err error) {
	if rej, ok := bidding.AsRejection(err); ok {
		writeJSON(w, rejectionStatus(rej.Reason), rej)
		return
	}
	if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "not found") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func rejectionStatus(reason bidding.Reason) int {
	switch reason {
	case bidding.ReasonBidTooLow, bidding.ReasonInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}
