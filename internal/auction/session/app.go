// Package session manages auction sessions: the ordered player queue, the
// participating teams and session lifecycle. Rounds themselves are run by
// the round controller.
package session

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/models"
)

// Repository defines what the session app needs from persistence.
type Repository interface {
	CreateSession(ctx context.Context, session *models.AuctionSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.AuctionSession, error)
	UpdateQueue(ctx context.Context, id uuid.UUID, queue []uuid.UUID) error
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	ActiveSessions(ctx context.Context) ([]*models.AuctionSession, error)
	CreatePlayer(ctx context.Context, player *models.Player) error
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// App handles session business logic.
type App struct {
	repo Repository
}

// NewApp creates a new session App.
func NewApp(repo Repository) *App {
	return &App{repo: repo}
}

// CreateSessionRequest carries everything needed to open a new session.
type CreateSessionRequest struct {
	Name        string
	TeamIDs     []uuid.UUID
	PlayerQueue []uuid.UUID
	Rules       models.AuctionRules
}

// CreateSession validates and persists a new ACTIVE session.
func (a *App) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.AuctionSession, error) {
	if err := a.validateCreateSessionRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session := &models.AuctionSession{
		ID:          uuid.New(),
		Name:        req.Name,
		TeamIDs:     req.TeamIDs,
		PlayerQueue: req.PlayerQueue,
		Rules:       req.Rules,
		Status:      models.SessionStatusActive,
	}
	if err := a.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Int("teams", len(session.TeamIDs)).
		Int("players", len(session.PlayerQueue)).
		Msg("session created")
	return session, nil
}

// GetSession retrieves a session by ID.
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.AuctionSession, error) {
	session, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// RegisterPlayer records a player so it can be placed in session queues.
func (a *App) RegisterPlayer(ctx context.Context, name, role string, basePrice decimal.Decimal) (*models.Player, error) {
	if name == "" {
		return nil, fmt.Errorf("player name is required")
	}
	if basePrice.Sign() <= 0 {
		return nil, fmt.Errorf("base price must be positive")
	}

	player := &models.Player{
		ID:        uuid.New(),
		Name:      name,
		Role:      role,
		BasePrice: basePrice,
	}
	if err := a.repo.CreatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

// GetPlayer retrieves a player by ID.
func (a *App) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	player, err := a.repo.GetPlayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

// NextPlayer returns the next player waiting in the queue, or a
// QueueExhausted rejection when every player has been auctioned.
func (a *App) NextPlayer(ctx context.Context, session *models.AuctionSession) (*models.Player, error) {
	remaining := session.RemainingPlayers()
	if len(remaining) == 0 {
		return nil, bidding.Reject(bidding.ReasonQueueExhausted, "no players left in session %s", session.ID)
	}
	player, err := a.repo.GetPlayer(ctx, remaining[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", remaining[0], err)
	}
	return player, nil
}

// ShuffleRemaining reorders the not-yet-auctioned suffix of the queue.
// Completed players keep their positions; the call is refused while a round
// is in progress.
func (a *App) ShuffleRemaining(ctx context.Context, session *models.AuctionSession) (*models.AuctionSession, error) {
	if session.CurrentLedgerID != nil {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "cannot shuffle while a round is in progress")
	}
	if session.Status != models.SessionStatusActive {
		return nil, bidding.Reject(bidding.ReasonRoundNotActive, "session is %s", session.Status)
	}

	done := make(map[uuid.UUID]bool, len(session.CompletedPlayerIDs))
	for _, id := range session.CompletedPlayerIDs {
		done[id] = true
	}
	var prefix, suffix []uuid.UUID
	for _, id := range session.PlayerQueue {
		if done[id] {
			prefix = append(prefix, id)
		} else {
			suffix = append(suffix, id)
		}
	}
	rand.Shuffle(len(suffix), func(i, j int) {
		suffix[i], suffix[j] = suffix[j], suffix[i]
	})

	queue := append(prefix, suffix...)
	if err := a.repo.UpdateQueue(ctx, session.ID, queue); err != nil {
		return nil, fmt.Errorf("failed to persist shuffled queue: %w", err)
	}
	session.PlayerQueue = queue

	log.Info().
		Str("session_id", session.ID.String()).
		Int("shuffled", len(suffix)).
		Msg("remaining queue shuffled")
	return session, nil
}

// CompleteSession marks a session COMPLETED. Used when the queue is
// exhausted or the auction is terminated early.
func (a *App) CompleteSession(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.UpdateSessionStatus(ctx, id, models.SessionStatusCompleted); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	log.Info().Str("session_id", id.String()).Msg("session completed")
	return nil
}

// ActiveSessions lists sessions still in progress, for restart recovery.
func (a *App) ActiveSessions(ctx context.Context) ([]*models.AuctionSession, error) {
	sessions, err := a.repo.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

func (a *App) validateCreateSessionRequest(req CreateSessionRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.TeamIDs) < 2 {
		return fmt.Errorf("a session needs at least two teams")
	}
	if len(req.PlayerQueue) == 0 {
		return fmt.Errorf("player queue is empty")
	}
	seen := make(map[uuid.UUID]bool, len(req.PlayerQueue))
	for _, id := range req.PlayerQueue {
		if seen[id] {
			return fmt.Errorf("player %s appears twice in the queue", id)
		}
		seen[id] = true
	}
	if err := req.Rules.Slabs.Validate(); err != nil {
		return fmt.Errorf("invalid slab table: %w", err)
	}
	if req.Rules.TimerDuration <= 0 {
		return fmt.Errorf("timer duration must be positive")
	}
	if req.Rules.UndoWindow <= 0 {
		return fmt.Errorf("undo window must be positive")
	}
	return nil
}
