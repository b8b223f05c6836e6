package blackjack_test

import (
	"testing"

	"blackjack-server/internal/blackjack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPlaysBothHandsInOrder(t *testing.T) {
	table := startedTable(t, "alice", "bob")
	// Seat 1 draws a pair of 8s, seat 2 a 19; dealer holds 19.
	// After the split the primary hand busts and the split hand makes 20.
	stack(table, "8", "10", "10", "8", "9", "9", "5", "2", "K", "10")

	require.NoError(t, table.PlaceBet(1, 50))
	require.NoError(t, table.PlaceBet(2, 50))

	seat := table.Seats[1]
	require.True(t, seat.CanSplit)

	require.NoError(t, table.Split(1))

	assert.True(t, seat.HasSplit)
	assert.Equal(t, 50, seat.Bet)
	assert.Equal(t, 50, seat.SplitBet)
	assert.Equal(t, 900, seat.Balance)
	assert.Equal(t, blackjack.PrimaryHand, seat.Active)
	assert.Equal(t, 1, table.CurrentTurn, "turn stays on the splitting seat")

	require.NoError(t, table.Hit(1)) // primary 8+5+K busts

	assert.True(t, seat.Busted)
	assert.Equal(t, blackjack.ResultLose, seat.Result)
	assert.Equal(t, blackjack.SplitHand, seat.Active, "play moves to the split hand")
	assert.Equal(t, 1, table.CurrentTurn)

	require.NoError(t, table.Hit(1)) // split 8+2+10 makes 20
	require.NoError(t, table.Stand(1))

	assert.Equal(t, 2, table.CurrentTurn)

	require.NoError(t, table.Stand(2))

	assert.Equal(t, blackjack.PhaseRoundOver, table.Phase)
	assert.Equal(t, blackjack.ResultWin, seat.SplitResult)
	assert.Equal(t, 1000, seat.Balance, "split win cancels the primary loss")
	assert.Equal(t, blackjack.ResultPush, table.Seats[2].Result)
	assert.Equal(t, 1000, table.Seats[2].Balance)
}

func TestPostSplitTwentyOneIsNotBlackjack(t *testing.T) {
	table := startedTable(t, "alice")
	// Split aces each draw a king; dealer stands on 18.
	stack(table, "A", "10", "A", "8", "K", "K")

	require.NoError(t, table.PlaceBet(1, 50))
	require.NoError(t, table.Split(1))

	seat := table.Seats[1]
	assert.Equal(t, blackjack.PhaseRoundOver, table.Phase, "two forced 21s leave nothing to play")
	assert.Equal(t, blackjack.ResultWin, seat.Result, "21 after a split pays even money")
	assert.Equal(t, blackjack.ResultWin, seat.SplitResult)
	// 1000 - 50 - 50 + 100 + 100
	assert.Equal(t, 1100, seat.Balance)
}

func TestDoubleDownOnBothSplitHands(t *testing.T) {
	table := startedTable(t, "alice")
	// 8,8 splits into 8+3 and 8+2; each hand doubles into a winner
	// against the dealer's 18.
	stack(table, "8", "10", "8", "8", "3", "2", "10", "9")

	require.NoError(t, table.PlaceBet(1, 50))
	require.NoError(t, table.Split(1))

	require.NoError(t, table.DoubleDown(1)) // primary 8+3+10 = 21

	seat := table.Seats[1]
	assert.Equal(t, 100, seat.Bet)
	assert.True(t, seat.Stood)
	assert.Equal(t, blackjack.SplitHand, seat.Active)

	require.NoError(t, table.DoubleDown(1)) // split 8+2+9 = 19

	assert.Equal(t, 100, seat.SplitBet)
	assert.Equal(t, blackjack.PhaseRoundOver, table.Phase)
	assert.Equal(t, blackjack.ResultWin, seat.Result)
	assert.Equal(t, blackjack.ResultWin, seat.SplitResult)
	// 1000 - 4*50 staked + 2*200 paid
	assert.Equal(t, 1200, seat.Balance)
}

func TestSplitNonPairRejected(t *testing.T) {
	table := startedTable(t, "alice")
	stack(table, "8", "10", "9", "8")

	require.NoError(t, table.PlaceBet(1, 50))

	assert.False(t, table.Seats[1].CanSplit)
	assert.ErrorIs(t, table.Split(1), blackjack.ErrCannotSplit)
}

func TestSplitAfterHitRejected(t *testing.T) {
	table := startedTable(t, "8s", "observer")
	stack(table, "8", "5", "10", "8", "6", "8", "2")

	require.NoError(t, table.PlaceBet(1, 50))
	require.NoError(t, table.PlaceBet(2, 50))
	require.NoError(t, table.Hit(1))

	err := table.Split(1)
	assert.ErrorIs(t, err, blackjack.ErrCannotSplit)
	assert.False(t, table.Seats[1].HasSplit)
}

func TestSecondSplitRejected(t *testing.T) {
	table := startedTable(t, "alice")
	// The primary hand draws back into a pair of 8s, which still may
	// not be split again.
	stack(table, "8", "10", "8", "8", "8", "2", "10")

	require.NoError(t, table.PlaceBet(1, 50))
	require.NoError(t, table.Split(1))
	require.Equal(t, blackjack.PhasePlaying, table.Phase)

	err := table.Split(1)
	assert.ErrorIs(t, err, blackjack.ErrCannotSplit)
}

func TestSplitNeedsFunds(t *testing.T) {
	table := startedTable(t, "alice")
	stack(table, "8", "10", "8", "8")
	table.Seats[1].Balance = 80

	require.NoError(t, table.PlaceBet(1, 50)) // 30 left cannot match the bet

	assert.False(t, table.Seats[1].CanSplit)
	assert.ErrorIs(t, table.Split(1), blackjack.ErrInsufficientBalance)
}
