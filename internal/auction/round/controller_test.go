package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/bidding"
	"github.com/gavel-io/gavel/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var errStorage = errors.New("storage down")

// memStore is an in-memory Store, TeamPurse and EventSink for controller
// tests. failFinalize injects one durability failure into the next finalize.
type memStore struct {
	mu           sync.Mutex
	ledgers      map[uuid.UUID]*models.Ledger
	teams        map[uuid.UUID]*models.Team
	debits       []decimal.Decimal
	events       []string
	failFinalize int
	finalizeCh   chan struct{}
	saveEntered  chan struct{}
	saveGate     chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		ledgers:    make(map[uuid.UUID]*models.Ledger),
		teams:      make(map[uuid.UUID]*models.Team),
		finalizeCh: make(chan struct{}, 8),
	}
}

func (m *memStore) addTeam(purse string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.teams[id] = &models.Team{ID: id, TotalPurse: dec(purse), PurseRemaining: dec(purse)}
	return id
}

func (m *memStore) CreateLedger(_ context.Context, ledger *models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func (m *memStore) SaveLedgerState(_ context.Context, ledger *models.Ledger) error {
	m.mu.Lock()
	entered, gate := m.saveEntered, m.saveGate
	m.saveEntered, m.saveGate = nil, nil
	m.mu.Unlock()
	if entered != nil {
		close(entered)
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

// gateNextSave makes the next SaveLedgerState signal entry and then block
// until the returned release channel is closed.
func (m *memStore) gateNextSave() (entered chan struct{}, release chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveEntered = make(chan struct{})
	m.saveGate = make(chan struct{})
	return m.saveEntered, m.saveGate
}

func (m *memStore) AppendBid(_ context.Context, ledger *models.Ledger, _ models.BidEntry, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func (m *memStore) RemoveBid(_ context.Context, ledger *models.Ledger, _ uuid.UUID, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func (m *memStore) FinalizeSold(_ context.Context, ledger *models.Ledger, teamID uuid.UUID, price decimal.Decimal, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCh <- struct{}{}
	if m.failFinalize > 0 {
		m.failFinalize--
		return errStorage
	}
	if stored, ok := m.ledgers[ledger.ID]; ok && stored.State.Terminal() {
		return ErrAlreadyFinalized
	}
	m.ledgers[ledger.ID] = ledger.Clone()
	m.teams[teamID].PurseRemaining = m.teams[teamID].PurseRemaining.Sub(price)
	m.debits = append(m.debits, price)
	return nil
}

func (m *memStore) FinalizeUnsold(_ context.Context, ledger *models.Ledger, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCh <- struct{}{}
	if m.failFinalize > 0 {
		m.failFinalize--
		return errStorage
	}
	if stored, ok := m.ledgers[ledger.ID]; ok && stored.State.Terminal() {
		return ErrAlreadyFinalized
	}
	m.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func (m *memStore) GetTeam(_ context.Context, teamID uuid.UUID) (*models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[teamID]
	if !ok {
		return nil, errors.New("team not found")
	}
	cp := *team
	return &cp, nil
}

func (m *memStore) Insert(_ context.Context, _ uuid.UUID, eventType string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *memStore) debitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.debits)
}

func testRules() models.AuctionRules {
	return models.AuctionRules{
		Slabs: models.SlabTable{
			{UpTo: dec("10"), Increment: dec("0.25")},
			{UpTo: dec("20"), Increment: dec("0.5")},
			{Unbounded: true, Increment: dec("1")},
		},
		TimerDuration: 30 * time.Second,
		UndoWindow:    15 * time.Second,
		AllowJumpBids: true,
	}
}

type fixture struct {
	ctrl      *Controller
	store     *memStore
	clock     *clockwork.FakeClock
	finalized chan *FinalizedResult
	teamA     uuid.UUID
	teamB     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	clock := clockwork.NewFakeClock()
	finalized := make(chan *FinalizedResult, 4)
	f := &fixture{
		store:     store,
		clock:     clock,
		finalized: finalized,
		teamA:     store.addTeam("100"),
		teamB:     store.addTeam("100"),
	}
	f.ctrl = NewController(uuid.New(), testRules(), store, store, store, clock, func(res *FinalizedResult) {
		finalized <- res
	})
	return f
}

// openLive opens a round for a fresh player and takes it live.
func (f *fixture) openLive(t *testing.T, basePrice string) *models.Player {
	t.Helper()
	player := &models.Player{ID: uuid.New(), Name: "R. Sharma", BasePrice: dec(basePrice)}
	_, err := f.ctrl.OpenRound(context.Background(), player)
	assert.NoError(t, err)
	_, err = f.ctrl.Start(context.Background())
	assert.NoError(t, err)
	return player
}

func TestOpenRoundCreatesReadyLedger(t *testing.T) {
	f := newFixture(t)
	player := &models.Player{ID: uuid.New(), Name: "J. Bumrah", BasePrice: dec("2")}

	ledger, err := f.ctrl.OpenRound(context.Background(), player)
	assert.NoError(t, err)
	check.Equal(t, models.RoundStateReady, ledger.State)
	check.True(t, ledger.CurrentBid.Equal(dec("2")))
	check.Nil(t, ledger.HighestBidder)

	// A second open while the round is in progress is rejected.
	_, err = f.ctrl.OpenRound(context.Background(), player)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonRoundNotActive, rej.Reason)
}

func TestBidBeforeStartRejected(t *testing.T) {
	f := newFixture(t)
	player := &models.Player{ID: uuid.New(), BasePrice: dec("1")}
	_, err := f.ctrl.OpenRound(context.Background(), player)
	assert.NoError(t, err)

	_, err = f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonAuctionNotLive, rej.Reason)
	check.True(t, rej.NextValidBid.Equal(dec("1.25")))
}

// TestSoldOnExpiry walks the scenario from the product rules: base 1.0,
// team A raises to 1.25, team B jumps to 5.0, the countdown expires and the
// player is sold to B at 5.0 with exactly 5.0 debited.
func TestSoldOnExpiry(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	ledger, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)
	check.True(t, ledger.CurrentBid.Equal(dec("1.25")))

	ledger, err = f.ctrl.PlaceBid(context.Background(), f.teamB, dec("5"), true)
	assert.NoError(t, err)
	check.True(t, ledger.CurrentBid.Equal(dec("5")))
	check.Equal(t, f.teamB, *ledger.HighestBidder)

	f.clock.Advance(30 * time.Second)
	res := <-f.finalized

	check.True(t, res.Sold)
	check.Equal(t, f.teamB, *res.WinningTeamID)
	check.True(t, res.Price.Equal(dec("5")))

	teamB, err := f.store.GetTeam(context.Background(), f.teamB)
	assert.NoError(t, err)
	check.True(t, teamB.PurseRemaining.Equal(dec("95")))
	check.Equal(t, 1, f.store.debitCount())
}

func TestBidRestartsCountdown(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	f.clock.Advance(20 * time.Second)
	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	// Crossing the original deadline must not finalize.
	f.clock.Advance(10 * time.Second)
	ledger, remaining := f.ctrl.Snapshot()
	check.Equal(t, models.RoundStateLive, ledger.State)
	check.Equal(t, 20*time.Second, remaining)

	f.clock.Advance(20 * time.Second)
	res := <-f.finalized
	check.True(t, res.Sold)
}

func TestUnsoldOnExpiryWithoutBids(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	f.clock.Advance(30 * time.Second)
	res := <-f.finalized

	check.False(t, res.Sold)
	check.Nil(t, res.WinningTeamID)
	check.Equal(t, 0, f.store.debitCount())

	// Terminal round refuses further bids.
	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonRoundNotActive, rej.Reason)
}

func TestConcurrentRaisesExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	teams := []uuid.UUID{f.teamA, f.teamB}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ctrl.PlaceBid(context.Background(), teams[i], dec("1.25"), false)
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		rej, ok := bidding.AsRejection(err)
		assert.True(t, ok)
		check.Equal(t, bidding.ReasonBidTooLow, rej.Reason)
		check.True(t, rej.NextValidBid.Equal(dec("1.5")))
		rejected++
	}
	check.Equal(t, 1, accepted)
	check.Equal(t, 1, rejected)

	ledger, _ := f.ctrl.Snapshot()
	check.True(t, ledger.CurrentBid.Equal(dec("1.25")))
	check.Equal(t, 1, len(ledger.Bids))
}

func TestInsufficientFundsAtBidTime(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")
	poor := f.store.addTeam("1.20")

	_, err := f.ctrl.PlaceBid(context.Background(), poor, dec("1.25"), false)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonInsufficientFunds, rej.Reason)
	check.True(t, rej.PurseRemaining.Equal(dec("1.20")))
}

func TestUndoRestoresPreviousBid(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)
	_, err = f.ctrl.PlaceBid(context.Background(), f.teamB, dec("1.5"), false)
	assert.NoError(t, err)

	ledger, err := f.ctrl.UndoLastBid(context.Background(), f.teamB)
	assert.NoError(t, err)
	check.True(t, ledger.CurrentBid.Equal(dec("1.25")))
	check.Equal(t, f.teamA, *ledger.HighestBidder)
	check.Equal(t, 1, len(ledger.Bids))
}

func TestUndoFirstBidRestoresBasePrice(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "2")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("2.25"), false)
	assert.NoError(t, err)

	ledger, err := f.ctrl.UndoLastBid(context.Background(), f.teamA)
	assert.NoError(t, err)
	check.True(t, ledger.CurrentBid.Equal(dec("2")))
	check.Nil(t, ledger.HighestBidder)
	check.Equal(t, 0, len(ledger.Bids))
}

func TestUndoWindow(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	// 14.9s after the bid: still inside the window.
	f.clock.Advance(14*time.Second + 900*time.Millisecond)
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamA)
	assert.NoError(t, err)

	_, err = f.ctrl.PlaceBid(context.Background(), f.teamB, dec("1.25"), false)
	assert.NoError(t, err)

	// 15.1s after this bid: window expired.
	f.clock.Advance(15*time.Second + 100*time.Millisecond)
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamB)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonUndoWindowExpired, rej.Reason)
}

func TestUndoOncePerBid(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)
	_, err = f.ctrl.PlaceBid(context.Background(), f.teamB, dec("1.5"), false)
	assert.NoError(t, err)

	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamB)
	assert.NoError(t, err)

	// Chained undo of the restored bid is refused until a new bid lands.
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamA)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonNoBidToUndo, rej.Reason)

	_, err = f.ctrl.PlaceBid(context.Background(), f.teamB, dec("1.5"), false)
	assert.NoError(t, err)
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamB)
	assert.NoError(t, err)
}

func TestUndoRequiresHighestBidder(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamB)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonNotHighestBidder, rej.Reason)

	// uuid.Nil marks an auctioneer-initiated undo.
	_, err = f.ctrl.UndoLastBid(context.Background(), uuid.Nil)
	assert.NoError(t, err)
}

func TestUndoEmptyHistory(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.UndoLastBid(context.Background(), f.teamA)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonNoBidToUndo, rej.Reason)
}

func TestUndoDoesNotRestartCountdown(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamA)
	assert.NoError(t, err)

	// The countdown still expires 30s after the undone bid, not the undo.
	f.clock.Advance(20 * time.Second)
	res := <-f.finalized
	check.False(t, res.Sold)
}

func TestUndoWhilePausedRejected(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)
	assert.NoError(t, f.ctrl.Pause(context.Background()))

	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamA)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonAuctionNotLive, rej.Reason)

	// The undo window keeps counting against the wall clock through pause.
	f.clock.Advance(16 * time.Second)
	assert.NoError(t, f.ctrl.Resume(context.Background()))
	_, err = f.ctrl.UndoLastBid(context.Background(), f.teamA)
	rej, ok = bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonUndoWindowExpired, rej.Reason)
}

func TestPauseFreezesCountdown(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	f.clock.Advance(18 * time.Second)
	assert.NoError(t, f.ctrl.Pause(context.Background()))

	ledger, remaining := f.ctrl.Snapshot()
	check.Equal(t, models.RoundStatePaused, ledger.State)
	check.Equal(t, 12*time.Second, remaining)

	// Nothing fires while paused.
	f.clock.Advance(time.Hour)
	_, remaining = f.ctrl.Snapshot()
	check.Equal(t, 12*time.Second, remaining)

	// Bids while paused are AuctionNotLive.
	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonAuctionNotLive, rej.Reason)

	assert.NoError(t, f.ctrl.Resume(context.Background()))
	f.clock.Advance(12 * time.Second)
	res := <-f.finalized
	check.False(t, res.Sold)
}

// A pause landing in the same instant the countdown expires must not leave
// the round live forever with a dead countdown: the frozen remaining time is
// zero, so resuming finalizes the round immediately.
func TestPauseRacingExpiryFinalizesOnResume(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamB, dec("5"), true)
	assert.NoError(t, err)

	entered, release := f.store.gateNextSave()

	pauseErr := make(chan error, 1)
	go func() { pauseErr <- f.ctrl.Pause(context.Background()) }()

	// Pause now holds the controller lock inside the durable write.
	<-entered

	// The countdown expires while the pause is mid-write; the expiry
	// handler queues up behind the pause and gets swallowed by it.
	go f.clock.Advance(30 * time.Second)
	time.Sleep(50 * time.Millisecond)

	close(release)
	assert.NoError(t, <-pauseErr)

	ledger, remaining := f.ctrl.Snapshot()
	check.Equal(t, models.RoundStatePaused, ledger.State)
	check.Equal(t, time.Duration(0), remaining)

	assert.NoError(t, f.ctrl.Resume(context.Background()))

	res := <-f.finalized
	check.True(t, res.Sold)
	check.Equal(t, f.teamB, *res.WinningTeamID)
	check.True(t, res.Price.Equal(dec("5")))

	ledger, _ = f.ctrl.Snapshot()
	check.Equal(t, models.RoundStateSold, ledger.State)
	check.Equal(t, 1, f.store.debitCount())
}

func TestExplicitSell(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	res, err := f.ctrl.Sell(context.Background())
	assert.NoError(t, err)
	check.True(t, res.Sold)
	check.Equal(t, f.teamA, *res.WinningTeamID)
	check.True(t, res.Price.Equal(dec("1.25")))
	<-f.finalized
}

func TestSellIdempotent(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	first, err := f.ctrl.Sell(context.Background())
	assert.NoError(t, err)
	<-f.finalized

	second, err := f.ctrl.Sell(context.Background())
	assert.NoError(t, err)
	check.Equal(t, first.PlayerID, second.PlayerID)
	check.True(t, first.Price.Equal(second.Price))
	check.Equal(t, 1, f.store.debitCount())
}

func TestSellWithoutBidderRejected(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.Sell(context.Background())
	rej, ok := bidding.AsRejection(err)
	assert.True(t, ok)
	check.Equal(t, bidding.ReasonNotHighestBidder, rej.Reason)
}

func TestMarkUnsoldNeverTouchesPurse(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	res, err := f.ctrl.MarkUnsold(context.Background())
	assert.NoError(t, err)
	check.False(t, res.Sold)
	check.Equal(t, 0, f.store.debitCount())
	<-f.finalized

	teamA, err := f.store.GetTeam(context.Background(), f.teamA)
	assert.NoError(t, err)
	check.True(t, teamA.PurseRemaining.Equal(dec("100")))
}

func TestSellFailureLeavesRoundLive(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	f.store.mu.Lock()
	f.store.failFinalize = 1
	f.store.mu.Unlock()

	_, err = f.ctrl.Sell(context.Background())
	assert.Error(t, err)
	<-f.store.finalizeCh

	ledger, _ := f.ctrl.Snapshot()
	check.Equal(t, models.RoundStateLive, ledger.State)
	check.Equal(t, 0, f.store.debitCount())

	// Retry succeeds once durability is back.
	res, err := f.ctrl.Sell(context.Background())
	assert.NoError(t, err)
	check.True(t, res.Sold)
	check.Equal(t, 1, f.store.debitCount())
}

func TestExpiryFinalizationRetries(t *testing.T) {
	f := newFixture(t)
	f.openLive(t, "1")

	_, err := f.ctrl.PlaceBid(context.Background(), f.teamA, dec("1.25"), false)
	assert.NoError(t, err)

	f.store.mu.Lock()
	f.store.failFinalize = 1
	f.store.mu.Unlock()

	f.clock.Advance(30 * time.Second)
	<-f.store.finalizeCh // first attempt fails

	// The controller re-arms a short retry countdown.
	f.clock.BlockUntil(1)
	f.clock.Advance(retryDelay)

	res := <-f.finalized
	check.True(t, res.Sold)
	check.Equal(t, 1, f.store.debitCount())
}
