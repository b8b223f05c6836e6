package server

import (
	"context"
	"sync"
	"testing"

	"blackjack-server/internal/blackjack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int)}
}

func (f *fakeLedger) Balance(ctx context.Context, userID string, fallback int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[userID]; ok {
		return balance, nil
	}
	f.balances[userID] = fallback
	return fallback, nil
}

func (f *fakeLedger) SetBalance(ctx context.Context, userID string, balance int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = balance
	return nil
}

func (f *fakeLedger) get(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

type fakeHistory struct {
	mu      sync.Mutex
	records []HandRecord
}

func (f *fakeHistory) RecordHands(ctx context.Context, gameID string, records []HandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeHistory) hands() []HandRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]HandRecord(nil), f.records...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saves int
}

func (f *fakeSaver) SaveTable(ctx context.Context, record *TableRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func newTestDispatcher() (*Dispatcher, *TableStore, *fakeLedger, *fakeHistory) {
	store := NewTableStore()
	ledger := newFakeLedger()
	history := &fakeHistory{}
	return NewDispatcher(store, ledger, history, &fakeSaver{}), store, ledger, history
}

// stackTable replaces a committed table's shoe so cards come out in
// the given order.
func stackTable(t *testing.T, store *TableStore, gameID string, ranks ...blackjack.Rank) {
	t.Helper()
	record, err := store.Get(gameID)
	require.NoError(t, err)

	cards := make([]blackjack.Card, len(ranks))
	for i, rank := range ranks {
		cards[len(ranks)-1-i] = blackjack.Card{Rank: rank, Suit: blackjack.Hearts}
	}
	record.Table.Shoe.Cards = cards
}

func TestCreateGameSeatsCreator(t *testing.T) {
	d, store, ledger, _ := newTestDispatcher()

	gameID, seat, state, err := d.CreateGame(context.Background(), "alice", "private", 0)
	require.NoError(t, err)

	assert.Len(t, gameID, 4)
	assert.Equal(t, 1, seat)
	assert.Contains(t, state.Players, "1")
	assert.Equal(t, 1000, state.Players["1"].Balance)
	assert.Equal(t, 1000, ledger.get("alice"))

	record, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Version)
	assert.Equal(t, "private", record.Table.Visibility)
}

func TestCreateGameNormalizesInputs(t *testing.T) {
	d, store, _, _ := newTestDispatcher()

	gameID, _, _, err := d.CreateGame(context.Background(), "alice", "whatever", -3)
	require.NoError(t, err)

	record, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, "private", record.Table.Visibility)
	assert.Equal(t, DefaultInitialBalance, record.Table.InitialBalance)
}

func TestJoinGameUsesLedgerBalance(t *testing.T) {
	d, _, ledger, _ := newTestDispatcher()
	ledger.balances["bob"] = 250

	gameID, _, _, err := d.CreateGame(context.Background(), "alice", "private", 1000)
	require.NoError(t, err)

	seat, state, err := d.JoinGame(context.Background(), gameID, "bob")
	require.NoError(t, err)

	assert.Equal(t, 2, seat)
	assert.Equal(t, 250, state.Players["2"].Balance)
}

func TestJoinUnknownGame(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	_, _, err := d.JoinGame(context.Background(), "ZZZZ", "bob")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestTableFullForGood(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "p1", "private", 1000)
	require.NoError(t, err)
	for _, user := range []string{"p2", "p3", "p4", "p5"} {
		_, _, err := d.JoinGame(ctx, gameID, user)
		require.NoError(t, err)
	}

	_, _, err = d.JoinGame(ctx, gameID, "p6")
	assert.ErrorIs(t, err, blackjack.ErrGameFull)

	// A departed seat does not reopen the table.
	_, _, err = d.LeaveGame(ctx, gameID, "p3")
	require.NoError(t, err)
	_, _, err = d.JoinGame(ctx, gameID, "p6")
	assert.ErrorIs(t, err, blackjack.ErrGameFull)
}

func TestRoundFlowSyncsLedgerAndHistory(t *testing.T) {
	d, store, ledger, history := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)

	_, err = d.StartRound(ctx, gameID, "alice")
	require.NoError(t, err)

	// Player 17 against a dealer 15 that draws into a bust.
	stackTable(t, store, gameID, "K", "9", "7", "6", "K")

	_, err = d.PlaceBet(ctx, gameID, "alice", 50)
	require.NoError(t, err)

	state, err := d.Stand(ctx, gameID, "alice")
	require.NoError(t, err)

	assert.Equal(t, blackjack.PhaseRoundOver, state.Phase)
	assert.Equal(t, blackjack.ResultWin, state.Players["1"].Result)
	assert.Equal(t, 1050, ledger.get("alice"), "round end writes the balance through")

	hands := history.hands()
	require.Len(t, hands, 1)
	assert.Equal(t, HandRecord{
		SeatNumber: 1,
		UserID:     "alice",
		Hand:       "primary",
		Bet:        50,
		Result:     blackjack.ResultWin,
		Balance:    1050,
	}, hands[0])

	record, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), record.Version, "start, bet and stand each commit once")
}

func TestSplitWritesOneHistoryRowPerHand(t *testing.T) {
	d, store, _, history := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)
	_, err = d.StartRound(ctx, gameID, "alice")
	require.NoError(t, err)

	// Aces split into two forced 21s against a dealer 18.
	stackTable(t, store, gameID, "A", "10", "A", "8", "K", "K")

	_, err = d.PlaceBet(ctx, gameID, "alice", 50)
	require.NoError(t, err)

	state, err := d.Split(ctx, gameID, "alice")
	require.NoError(t, err)
	require.Equal(t, blackjack.PhaseRoundOver, state.Phase)

	hands := history.hands()
	require.Len(t, hands, 2)
	assert.Equal(t, "primary", hands[0].Hand)
	assert.Equal(t, "split", hands[1].Hand)
	for _, hand := range hands {
		assert.Equal(t, 1, hand.SeatNumber)
		assert.Equal(t, "alice", hand.UserID)
		assert.Equal(t, 50, hand.Bet)
		assert.Equal(t, blackjack.ResultWin, hand.Result)
		assert.Equal(t, 1100, hand.Balance)
	}
}

func TestGetGameIsIdempotent(t *testing.T) {
	d, store, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)

	before, err := store.Get(gameID)
	require.NoError(t, err)

	first, err := d.GetGame(ctx, gameID)
	require.NoError(t, err)
	second, err := d.GetGame(ctx, gameID)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	after, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "reads never commit")
}

func TestStartRoundRequiresSeat(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)

	_, err = d.StartRound(ctx, gameID, "mallory")
	assert.ErrorIs(t, err, blackjack.ErrSeatNotFound)
}

func TestErrorStringsCarryStableCodes(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)
	_, err = d.StartRound(ctx, gameID, "alice")
	require.NoError(t, err)

	_, err = d.PlaceBet(ctx, gameID, "alice", -1)
	assert.EqualError(t, err, "INVALID_BET: Invalid bet amount")

	_, err = d.Hit(ctx, gameID, "alice")
	assert.EqualError(t, err, "WRONG_PHASE: Cannot hit in current phase")

	_, _, err = d.JoinGame(ctx, "QQQQ", "bob")
	assert.EqualError(t, err, "GAME_NOT_FOUND: Game not found")
}

func TestLeaveGameTombstonesEmptyTable(t *testing.T) {
	d, store, ledger, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)

	state, empty, err := d.LeaveGame(ctx, gameID, "alice")
	require.NoError(t, err)

	assert.True(t, empty)
	assert.Empty(t, state.Players)
	assert.Equal(t, 1000, ledger.get("alice"))

	_, err = store.Get(gameID)
	assert.ErrorIs(t, err, ErrGameTombstoned)
	_, err = d.GetGame(ctx, gameID)
	assert.ErrorIs(t, err, ErrGameTombstoned)
}

func TestConflictAfterRetriesExhausted(t *testing.T) {
	d, store, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)

	// The transition commits a competing write on every attempt, so the
	// outer CompareAndSwap is stale each time.
	_, err = d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		record, err := store.Get(gameID)
		if err != nil {
			return err
		}
		return store.CompareAndSwap(gameID, record.Version, record.Table.Clone())
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConcurrentHitsDrawExactlyOneCardEach(t *testing.T) {
	d, store, _, _ := newTestDispatcher()
	ctx := context.Background()

	gameID, _, _, err := d.CreateGame(ctx, "alice", "private", 1000)
	require.NoError(t, err)
	_, err = d.StartRound(ctx, gameID, "alice")
	require.NoError(t, err)

	// Player 2,3 against a standing dealer 17, then a run of deuces so
	// several hits stay legal.
	stackTable(t, store, gameID,
		"2", "9", "3", "8", "2", "2", "2", "2", "2", "2", "2", "2")

	_, err = d.PlaceBet(ctx, gameID, "alice", 50)
	require.NoError(t, err)

	const attempts = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Hit(ctx, gameID, "alice"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	record, err := store.Get(gameID)
	require.NoError(t, err)
	seat := record.Table.Seats[1]
	assert.Equal(t, 2+successes, len(seat.Hand.Cards),
		"every accepted hit draws exactly one card, every rejected hit draws none")
}
