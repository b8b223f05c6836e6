package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blackjack-server/internal/blackjack"
)

// PersistenceManager stores table snapshots, the per-user chip ledger
// and the finished-round history in postgres. Tables are saved as
// whole JSON blobs: the in-memory store is authoritative and rows are
// only read back on startup.
type PersistenceManager struct {
	pool *pgxpool.Pool
}

func NewPersistenceManager(pool *pgxpool.Pool) *PersistenceManager {
	return &PersistenceManager{pool: pool}
}

// EnsureSchema creates the tables on first boot.
func (pm *PersistenceManager) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS games (
			game_id    TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			version    BIGINT NOT NULL,
			game_data  TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_chips (
			user_id    TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hands_history (
			id          BIGSERIAL PRIMARY KEY,
			game_id     TEXT NOT NULL,
			seat_number INTEGER NOT NULL,
			user_id     TEXT NOT NULL,
			hand        TEXT NOT NULL,
			bet         INTEGER NOT NULL,
			result      TEXT NOT NULL,
			balance     INTEGER NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := pm.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveTable upserts one committed table record.
func (pm *PersistenceManager) SaveTable(ctx context.Context, record *TableRecord) error {
	gameData, err := json.Marshal(record.Table)
	if err != nil {
		return fmt.Errorf("failed to serialize game: %w", err)
	}

	query := `
		INSERT INTO games (game_id, status, version, game_data, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			game_data = EXCLUDED.game_data,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err = pm.pool.Exec(ctx, query,
		record.Table.GameID,
		string(record.Status),
		record.Version,
		string(gameData),
		record.UpdatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save game %s: %w", record.Table.GameID, err)
	}
	return nil
}

// LoadTable retrieves a single table record by game ID.
func (pm *PersistenceManager) LoadTable(ctx context.Context, gameID string) (*TableRecord, error) {
	query := `
		SELECT status, version, game_data, updated_at, expires_at
		FROM games WHERE game_id = $1
	`

	var (
		status   string
		record   TableRecord
		gameData string
	)
	err := pm.pool.QueryRow(ctx, query, gameID).Scan(
		&status, &record.Version, &gameData, &record.UpdatedAt, &record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}

	var table blackjack.Table
	if err := json.Unmarshal([]byte(gameData), &table); err != nil {
		return nil, fmt.Errorf("failed to deserialize game %s: %w", gameID, err)
	}

	record.Status = GameStatus(status)
	record.Table = &table
	return &record, nil
}

// LoadActiveTables retrieves every non-tombstoned, unexpired table.
// Used on startup to restore the in-memory store.
func (pm *PersistenceManager) LoadActiveTables(ctx context.Context) ([]*TableRecord, error) {
	query := `
		SELECT status, version, game_data, updated_at, expires_at
		FROM games
		WHERE status = $1 AND expires_at > now()
		ORDER BY updated_at DESC
	`

	rows, err := pm.pool.Query(ctx, query, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active games: %w", err)
	}
	defer rows.Close()

	var records []*TableRecord
	for rows.Next() {
		var (
			status   string
			record   TableRecord
			gameData string
		)
		if err := rows.Scan(&status, &record.Version, &gameData, &record.UpdatedAt, &record.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}

		var table blackjack.Table
		if err := json.Unmarshal([]byte(gameData), &table); err != nil {
			// Keep going; one corrupt row should not block startup.
			log.Printf("Warning: failed to deserialize game: %v", err)
			continue
		}

		record.Status = GameStatus(status)
		record.Table = &table
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating game rows: %w", err)
	}
	return records, nil
}

// DeleteTable removes a game's durable row.
func (pm *PersistenceManager) DeleteTable(ctx context.Context, gameID string) error {
	_, err := pm.pool.Exec(ctx, `DELETE FROM games WHERE game_id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("failed to delete game %s: %w", gameID, err)
	}
	return nil
}

// CleanupExpired deletes tombstoned and past-TTL rows.
func (pm *PersistenceManager) CleanupExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM games WHERE status = $1 OR expires_at < now()`
	tag, err := pm.pool.Exec(ctx, query, string(StatusTombstoned))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired games: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Balance reads a user's chip balance, seeding first-seen identities
// with the fallback amount.
func (pm *PersistenceManager) Balance(ctx context.Context, userID string, fallback int) (int, error) {
	var balance int
	err := pm.pool.QueryRow(ctx,
		`SELECT balance FROM user_chips WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := pm.SetBalance(ctx, userID, fallback); err != nil {
			return 0, err
		}
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load balance for %s: %w", userID, err)
	}
	return balance, nil
}

func (pm *PersistenceManager) SetBalance(ctx context.Context, userID string, balance int) error {
	query := `
		INSERT INTO user_chips (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
	`

	_, err := pm.pool.Exec(ctx, query, userID, balance, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save balance for %s: %w", userID, err)
	}
	return nil
}

// RecordHands appends one history row per finished hand.
func (pm *PersistenceManager) RecordHands(ctx context.Context, gameID string, records []HandRecord) error {
	query := `
		INSERT INTO hands_history (game_id, seat_number, user_id, hand, bet, result, balance, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now()
	for _, record := range records {
		_, err := pm.pool.Exec(ctx, query,
			gameID, record.SeatNumber, record.UserID, record.Hand,
			record.Bet, string(record.Result), record.Balance, now,
		)
		if err != nil {
			return fmt.Errorf("failed to record hand for game %s: %w", gameID, err)
		}
	}
	return nil
}

// HandCount returns how many hands a game has recorded.
func (pm *PersistenceManager) HandCount(ctx context.Context, gameID string) (int, error) {
	var count int
	err := pm.pool.QueryRow(ctx,
		`SELECT count(*) FROM hands_history WHERE game_id = $1`, gameID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hands for game %s: %w", gameID, err)
	}
	return count, nil
}
