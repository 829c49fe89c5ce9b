package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/models"
)

type memRepo struct {
	sessions map[uuid.UUID]*models.AuctionSession
	players  map[uuid.UUID]*models.Player
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[uuid.UUID]*models.AuctionSession),
		players:  make(map[uuid.UUID]*models.Player),
	}
}

func (r *memRepo) CreateSession(_ context.Context, s *models.AuctionSession) error {
	r.sessions[s.ID] = s
	return nil
}

func (r *memRepo) GetSession(_ context.Context, id uuid.UUID) (*models.AuctionSession, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}

func (r *memRepo) UpdateQueue(_ context.Context, id uuid.UUID, queue []uuid.UUID) error {
	r.sessions[id].PlayerQueue = queue
	return nil
}

func (r *memRepo) UpdateSessionStatus(_ context.Context, id uuid.UUID, status models.SessionStatus) error {
	r.sessions[id].Status = status
	return nil
}

func (r *memRepo) ActiveSessions(_ context.Context) ([]*models.AuctionSession, error) {
	var out []*models.AuctionSession
	for _, s := range r.sessions {
		if s.Status == models.SessionStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) CreatePlayer(_ context.Context, player *models.Player) error {
	r.players[player.ID] = player
	return nil
}

func (r *memRepo) GetPlayer(_ context.Context, id uuid.UUID) (*models.Player, error) {
	p, ok := r.players[id]
	if !ok {
		return nil, errors.New("player not found")
	}
	return p, nil
}

func validRules() models.AuctionRules {
	return models.AuctionRules{
		Slabs: models.SlabTable{
			{UpTo: decimal.RequireFromString("10"), Increment: decimal.RequireFromString("0.25")},
			{Unbounded: true, Increment: decimal.RequireFromString("1")},
		},
		TimerDuration: 30 * time.Second,
		UndoWindow:    15 * time.Second,
	}
}

func seedSession(t *testing.T, repo *memRepo, app *App, playerCount int) *models.AuctionSession {
	t.Helper()
	queue := make([]uuid.UUID, playerCount)
	for i := range queue {
		p := &models.Player{ID: uuid.New(), Name: "Player", BasePrice: decimal.RequireFromString("1")}
		repo.players[p.ID] = p
		queue[i] = p.ID
	}
	session, err := app.CreateSession(context.Background(), CreateSessionRequest{
		Name:        "IPL 2026 Mega Auction",
		TeamIDs:     []uuid.UUID{uuid.New(), uuid.New()},
		PlayerQueue: queue,
		Rules:       validRules(),
	})
	assert.NoError(t, err)
	return session
}

func TestCreateSessionValidation(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)

	_, err := app.CreateSession(context.Background(), CreateSessionRequest{})
	check.Error(t, err)

	// Duplicate player in the queue.
	dup := uuid.New()
	_, err = app.CreateSession(context.Background(), CreateSessionRequest{
		Name:        "bad",
		TeamIDs:     []uuid.UUID{uuid.New(), uuid.New()},
		PlayerQueue: []uuid.UUID{dup, dup},
		Rules:       validRules(),
	})
	check.Error(t, err)

	// Slab table without an unbounded tail.
	rules := validRules()
	rules.Slabs = models.SlabTable{{UpTo: decimal.RequireFromString("10"), Increment: decimal.RequireFromString("1")}}
	_, err = app.CreateSession(context.Background(), CreateSessionRequest{
		Name:        "bad slabs",
		TeamIDs:     []uuid.UUID{uuid.New(), uuid.New()},
		PlayerQueue: []uuid.UUID{uuid.New()},
		Rules:       rules,
	})
	check.Error(t, err)
}

func TestNextPlayerFollowsQueueOrder(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)
	session := seedSession(t, repo, app, 3)

	player, err := app.NextPlayer(context.Background(), session)
	assert.NoError(t, err)
	check.Equal(t, session.PlayerQueue[0], player.ID)

	// Completing the head moves the cursor.
	session.CompletedPlayerIDs = append(session.CompletedPlayerIDs, player.ID)
	player, err = app.NextPlayer(context.Background(), session)
	assert.NoError(t, err)
	check.Equal(t, session.PlayerQueue[1], player.ID)
}

func TestNextPlayerQueueExhausted(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)
	session := seedSession(t, repo, app, 2)
	session.CompletedPlayerIDs = append([]uuid.UUID{}, session.PlayerQueue...)

	_, err := app.NextPlayer(context.Background(), session)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonQueueExhausted, rej.Reason)
}

func TestShuffleRemainingKeepsCompletedPrefix(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)
	session := seedSession(t, repo, app, 10)

	completed := session.PlayerQueue[:3]
	session.CompletedPlayerIDs = append([]uuid.UUID{}, completed...)
	before := append([]uuid.UUID{}, session.PlayerQueue...)

	shuffled, err := app.ShuffleRemaining(context.Background(), session)
	assert.NoError(t, err)

	// Completed players keep their slots.
	for i, id := range completed {
		check.Equal(t, id, shuffled.PlayerQueue[i])
	}

	// The suffix is a permutation of the original remaining players.
	want := make(map[uuid.UUID]bool)
	for _, id := range before[3:] {
		want[id] = true
	}
	check.Equal(t, 10, len(shuffled.PlayerQueue))
	for _, id := range shuffled.PlayerQueue[3:] {
		check.True(t, want[id])
	}

	// Queue and completed set stay disjoint.
	check.Equal(t, 7, len(shuffled.RemainingPlayers()))
}

func TestShuffleRejectedWhileRoundActive(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)
	session := seedSession(t, repo, app, 3)
	ledgerID := uuid.New()
	session.CurrentLedgerID = &ledgerID

	_, err := app.ShuffleRemaining(context.Background(), session)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonRoundNotActive, rej.Reason)
}

func TestCompleteSession(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)
	session := seedSession(t, repo, app, 1)

	assert.NoError(t, app.CompleteSession(context.Background(), session.ID))
	got, err := app.GetSession(context.Background(), session.ID)
	assert.NoError(t, err)
	check.Equal(t, models.SessionStatusCompleted, got.Status)

	active, err := app.ActiveSessions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 0, len(active))
}
