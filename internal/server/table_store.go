package server

import (
	"errors"
	"sync"
	"time"

	"blackjack-server/internal/blackjack"
)

type GameStatus string

const (
	StatusActive     GameStatus = "active"
	StatusTombstoned GameStatus = "tombstoned"
)

// TableTTL is how long a table may live before the cleanup task
// removes it regardless of activity.
const TableTTL = 24 * time.Hour

var (
	ErrGameNotFound   = errors.New("GAME_NOT_FOUND: Game not found")
	ErrGameTombstoned = errors.New("GAME_TOMBSTONED: Game has been tombstoned")
	ErrVersionStale   = errors.New("VERSION_STALE: Table was modified concurrently")
)

// TableRecord is one committed snapshot of a table plus its version.
// The Table pointer must be treated as immutable once stored; writers
// clone it, mutate the clone and commit via CompareAndSwap.
type TableRecord struct {
	Table     *blackjack.Table
	Version   uint64
	Status    GameStatus
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// TableStore holds every live table keyed by game ID. It is the only
// synchronization point for game state: all writes go through the
// snapshot/clone/CompareAndSwap cycle, so no table method ever runs
// under a lock and a lost race costs a recompute rather than a stall.
type TableStore struct {
	mu        sync.RWMutex
	tables    map[string]*TableRecord
	usedCodes map[string]bool
}

func NewTableStore() *TableStore {
	return &TableStore{
		tables:    make(map[string]*TableRecord),
		usedCodes: make(map[string]bool),
	}
}

// NewGameID reserves and returns a fresh game code.
func (ts *TableStore) NewGameID() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	code := GenerateGameCode(ts.usedCodes)
	ts.usedCodes[code] = true
	return code
}

// Put registers a brand-new table at version 1.
func (ts *TableStore) Put(table *blackjack.Table) *TableRecord {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	record := &TableRecord{
		Table:     table,
		Version:   1,
		Status:    StatusActive,
		UpdatedAt: now,
		ExpiresAt: now.Add(TableTTL),
	}
	ts.tables[table.GameID] = record
	ts.usedCodes[table.GameID] = true
	return record
}

// Restore reinstates a persisted record, keeping its version so that
// clients holding stale snapshots across a restart still conflict.
func (ts *TableStore) Restore(record *TableRecord) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tables[record.Table.GameID] = record
	ts.usedCodes[record.Table.GameID] = true
}

// Get returns the current committed record for a game. The contained
// table is shared; callers clone before mutating.
func (ts *TableStore) Get(gameID string) (*TableRecord, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	record, ok := ts.tables[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	if record.Status == StatusTombstoned {
		return nil, ErrGameTombstoned
	}
	return record, nil
}

// CompareAndSwap commits a mutated clone if nobody else has committed
// since the snapshot at expectedVersion was taken.
func (ts *TableStore) CompareAndSwap(gameID string, expectedVersion uint64, table *blackjack.Table) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	record, ok := ts.tables[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if record.Status == StatusTombstoned {
		return ErrGameTombstoned
	}
	if record.Version != expectedVersion {
		return ErrVersionStale
	}

	ts.tables[gameID] = &TableRecord{
		Table:     table,
		Version:   expectedVersion + 1,
		Status:    record.Status,
		UpdatedAt: time.Now(),
		ExpiresAt: record.ExpiresAt,
	}
	return nil
}

// Tombstone marks a table dead. The record stays until cleanup so the
// durable row can be reconciled, but every action on it fails fast.
func (ts *TableStore) Tombstone(gameID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	record, ok := ts.tables[gameID]
	if !ok {
		return
	}
	ts.tables[gameID] = &TableRecord{
		Table:     record.Table,
		Version:   record.Version + 1,
		Status:    StatusTombstoned,
		UpdatedAt: time.Now(),
		ExpiresAt: record.ExpiresAt,
	}
}

// All returns the current records, for the periodic save task.
func (ts *TableStore) All() []*TableRecord {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	records := make([]*TableRecord, 0, len(ts.tables))
	for _, record := range ts.tables {
		records = append(records, record)
	}
	return records
}

// RemoveExpired drops tombstoned and past-TTL tables from memory and
// returns their game IDs so the caller can delete the durable rows.
func (ts *TableStore) RemoveExpired() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	var removed []string
	for gameID, record := range ts.tables {
		if record.Status == StatusTombstoned || now.After(record.ExpiresAt) {
			delete(ts.tables, gameID)
			delete(ts.usedCodes, gameID)
			removed = append(removed, gameID)
		}
	}
	return removed
}
