package server

import (
	"errors"
	"sync"
)

// Session binds a live connection to a seat at a table. Sessions die
// with their connection, and the seat is vacated with them; reconnect
// only works while the old connection is still live (device switch).
type Session struct {
	ConnectionID string
	GameID       string
	UserID       string
	APNToken     string
	SeatNumber   int
}

type SessionManager struct {
	sessions map[string]Session // connectionID -> session
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]Session),
	}
}

func (sm *SessionManager) StoreSession(session Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[session.ConnectionID] = session
}

func (sm *SessionManager) GetSession(connectionID string) (Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[connectionID]
	if !exists {
		return Session{}, errors.New("NOT_IN_GAME: No active game session")
	}
	return session, nil
}

// Used when a player leaves or their connection closes.
func (sm *SessionManager) RemoveSession(connectionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, connectionID)
}

// SessionsForGame returns every live session seated at a game.
func (sm *SessionManager) SessionsForGame(gameID string) []Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var sessions []Session
	for _, session := range sm.sessions {
		if session.GameID == gameID {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// FindByUser returns the connection a user currently plays a game on,
// if any. Used to kick the old connection when the same identity
// reconnects elsewhere.
func (sm *SessionManager) FindByUser(gameID, userID string) (Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, session := range sm.sessions {
		if session.GameID == gameID && session.UserID == userID {
			return session, true
		}
	}
	return Session{}, false
}
