package server

import "blackjack-server/internal/blackjack"

type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CREATE GAME (create_game) / JOIN GAME (join_game)
// ============================================================================

type GameCreatedData struct {
	GameID     string                `json:"game_id"`
	SeatNumber int                   `json:"player_number"`
	State      blackjack.ClientState `json:"game_state"`
}

type GameJoinedData struct {
	GameID     string                `json:"game_id"`
	SeatNumber int                   `json:"player_number"`
	State      blackjack.ClientState `json:"game_state"`
}

// ============================================================================
// TABLE ACTIONS (start_round, place_bet, hit, stand, double_down, split)
// ============================================================================

// GameStateData carries the post-commit snapshot every action result
// and broadcast is built from.
type GameStateData struct {
	State blackjack.ClientState `json:"game_state"`
}

// PlayerEventData is the broadcast shape for another player's action.
type PlayerEventData struct {
	SeatNumber int                   `json:"player_number"`
	UserID     string                `json:"user_id"`
	State      blackjack.ClientState `json:"game_state"`
}

// ============================================================================
// BALANCE (get_balance)
// ============================================================================

type UserBalanceData struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// ============================================================================
// RECONNECT (reconnect) / LEAVE (leave_game)
// ============================================================================

type ReconnectedData struct {
	GameID     string                `json:"game_id"`
	SeatNumber int                   `json:"player_number"`
	State      blackjack.ClientState `json:"game_state"`
}

type LeftGameData struct {
	GameID string `json:"game_id"`
}
