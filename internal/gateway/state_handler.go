package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/models"
)

// StateProvider defines methods for retrieving auction session state.
type StateProvider interface {
	GetSessionState(ctx context.Context, sessionID uuid.UUID) (*SessionStateResponse, error)
	GetActiveSessions(ctx context.Context) ([]SessionSummary, error)
}

// SessionStateResponse is the snapshot served to late joiners and pollers.
// It mirrors the engine's snapshot shape.
type SessionStateResponse struct {
	Session       *models.AuctionSession `json:"session"`
	Ledger        *models.Ledger         `json:"ledger,omitempty"`
	NextValidBid  *decimal.Decimal       `json:"next_valid_bid,omitempty"`
	RemainingTime time.Duration          `json:"remaining_time"`
	Teams         []*models.Team         `json:"teams"`
}

// SessionSummary is one row of the active session listing.
type SessionSummary struct {
	SessionID        string `json:"session_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	TotalPlayers     int    `json:"total_players"`
	CompletedPlayers int    `json:"completed_players"`
	TotalTeams       int    `json:"total_teams"`
}

// StateHandler handles HTTP requests for session state.
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler.
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetSessionState handles GET /api/sessions/{id}/state.
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionIDStr := extractSessionIDFromPath(r.URL.Path)
	if sessionIDStr == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetSessionState(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode session state response")
	}
}

// HandleGetActiveSessions handles GET /api/sessions/active.
func (h *StateHandler) HandleGetActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := h.stateProvider.GetActiveSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active sessions")
		http.Error(w, "Failed to get active sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		log.Error().Err(err).Msg("failed to encode active sessions response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions/active", h.HandleGetActiveSessions)

	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetSessionState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractSessionIDFromPath extracts the ID from /api/sessions/{id}/state.
func extractSessionIDFromPath(path string) string {
	const prefix = "/api/sessions/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
