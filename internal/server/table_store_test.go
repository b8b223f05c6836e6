package server

import (
	"testing"
	"time"

	"blackjack-server/internal/blackjack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredTable(t *testing.T, store *TableStore) *TableRecord {
	t.Helper()
	gameID := store.NewGameID()
	table := blackjack.NewTable(gameID, "private", 1000)
	return store.Put(table)
}

func TestPutAndGet(t *testing.T) {
	store := NewTableStore()
	record := newStoredTable(t, store)

	got, err := store.Get(record.Table.GameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, StatusActive, got.Status)
	assert.Same(t, record.Table, got.Table)
}

func TestGetUnknownGame(t *testing.T) {
	store := NewTableStore()

	_, err := store.Get("ZZZZ")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestCompareAndSwapBumpsVersion(t *testing.T) {
	store := NewTableStore()
	record := newStoredTable(t, store)
	gameID := record.Table.GameID

	clone := record.Table.Clone()
	require.NoError(t, store.CompareAndSwap(gameID, 1, clone))

	got, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Same(t, clone, got.Table)
}

func TestCompareAndSwapRejectsStaleVersion(t *testing.T) {
	store := NewTableStore()
	record := newStoredTable(t, store)
	gameID := record.Table.GameID

	require.NoError(t, store.CompareAndSwap(gameID, 1, record.Table.Clone()))

	err := store.CompareAndSwap(gameID, 1, record.Table.Clone())
	assert.ErrorIs(t, err, ErrVersionStale)

	got, err := store.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version, "losing writer commits nothing")
}

func TestTombstoneBlocksAccess(t *testing.T) {
	store := NewTableStore()
	record := newStoredTable(t, store)
	gameID := record.Table.GameID

	store.Tombstone(gameID)

	_, err := store.Get(gameID)
	assert.ErrorIs(t, err, ErrGameTombstoned)

	err = store.CompareAndSwap(gameID, record.Version, record.Table.Clone())
	assert.ErrorIs(t, err, ErrGameTombstoned)
}

func TestRemoveExpired(t *testing.T) {
	store := NewTableStore()
	keep := newStoredTable(t, store)
	dead := newStoredTable(t, store)
	stale := newStoredTable(t, store)

	store.Tombstone(dead.Table.GameID)
	stale.ExpiresAt = time.Now().Add(-time.Minute)

	removed := store.RemoveExpired()

	assert.ElementsMatch(t, []string{dead.Table.GameID, stale.Table.GameID}, removed)
	_, err := store.Get(keep.Table.GameID)
	assert.NoError(t, err)
	_, err = store.Get(dead.Table.GameID)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestNewGameIDNeverCollides(t *testing.T) {
	store := NewTableStore()

	seen := make(map[string]bool)
	for range 200 {
		code := store.NewGameID()
		assert.False(t, seen[code], "code %s issued twice", code)
		assert.NoError(t, ValidateGameCode(code))
		seen[code] = true
	}
}
