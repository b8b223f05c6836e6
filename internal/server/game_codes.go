package server

import (
	"errors"
	"math/rand"
	"strings"
)

const gameCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateGameCode returns a 4-character code not present in usedCodes.
// The caller holds whatever lock guards the map.
func GenerateGameCode(usedCodes map[string]bool) string {
	for {
		code := make([]byte, 4)
		for i := range code {
			code[i] = gameCodeAlphabet[rand.Intn(len(gameCodeAlphabet))]
		}
		gameID := string(code)

		if !usedCodes[gameID] {
			return gameID
		}
	}
}

func ValidateGameCode(code string) error {
	if len(code) != 4 {
		return errors.New("INVALID_GAME_ID: Game code must be exactly 4 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return errors.New("INVALID_GAME_ID: Game code must contain only A-Z and 0-9")
		}
	}

	return nil
}

func NormalizeGameCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
