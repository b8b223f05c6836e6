package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"blackjack-server/internal/blackjack"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "blackjack server"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(s.db.Health())
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connectionManager.AddConnection(connectionID, socket)
	defer s.handleDisconnect(connectionID)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, "RATE_LIMITED: Too many requests, slow down")
			continue
		}
		s.connectionHealth.UpdateActivity(connectionID)

		var req ActionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(socket, ctx, "INVALID_MESSAGE: Invalid JSON")
			continue
		}

		if err := ValidateAction(req.Action); err != nil {
			s.sendError(socket, ctx, err.Error())
			continue
		}

		log.Printf("Action '%s' from %s", req.Action, connectionID)

		switch req.Action {
		case "ping":
			s.handlePing(socket, ctx, connectionID)

		case "create_game":
			s.handleCreateGame(socket, ctx, connectionID, req)

		case "join_game":
			s.handleJoinGame(socket, ctx, connectionID, req)

		case "start_round":
			s.handleStartRound(socket, ctx, connectionID)

		case "place_bet":
			s.handlePlaceBet(socket, ctx, connectionID, req)

		case "hit":
			s.handleTurnAction(socket, ctx, connectionID, "hit")

		case "stand":
			s.handleTurnAction(socket, ctx, connectionID, "stand")

		case "double_down":
			s.handleTurnAction(socket, ctx, connectionID, "double_down")

		case "split":
			s.handleTurnAction(socket, ctx, connectionID, "split")

		case "get_game":
			s.handleGetGame(socket, ctx, connectionID, req)

		case "get_balance":
			s.handleGetBalance(socket, ctx, connectionID, req)

		case "reconnect":
			s.handleReconnect(socket, ctx, connectionID, req)

		case "leave_game":
			s.handleLeaveGame(socket, ctx, connectionID)
		}
	}
}

// handleDisconnect runs when a socket dies for any reason. A dead
// connection vacates its seat just like an explicit leave: the round
// settles forward past the departed seat, the balance is synced, and
// an emptied table is tombstoned.
func (s *Server) handleDisconnect(connectionID string) {
	s.connectionManager.RemoveConnection(connectionID)
	s.rateLimiter.RemoveConnection(connectionID)
	s.connectionHealth.RemoveConnection(connectionID)
	log.Printf("Connection closed: %s", connectionID)

	session, err := s.sessionManager.GetSession(connectionID)
	if err != nil {
		return // never joined a game
	}
	s.sessionManager.RemoveSession(connectionID)

	log.Printf("Player %s (seat %d) disconnected from game %s",
		session.UserID, session.SeatNumber, session.GameID)

	state, empty, err := s.dispatcher.LeaveGame(context.Background(), session.GameID, session.UserID)
	if err != nil {
		log.Printf("Failed to vacate seat for %s: %v", session.UserID, err)
		return
	}
	if empty {
		return
	}
	s.broadcastToGame(session.GameID, connectionID, ServerMessage{
		Type: "player_disconnected",
		Data: PlayerEventData{
			SeatNumber: session.SeatNumber,
			UserID:     session.UserID,
			State:      state,
		},
	})
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := ServerMessage{Type: "pong"}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send pong to %s: %v", connectionID, err)
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	response := ServerMessage{
		Type:    "error",
		Message: msg,
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}

// broadcastTimeout caps each fan-out write so one stalled peer cannot
// block the sender's read loop.
const broadcastTimeout = 5 * time.Second

// broadcastToGame delivers a message to every live connection seated
// at the game except the excluded one (usually the actor, who gets a
// result message instead).
func (s *Server) broadcastToGame(gameID, excludeConnectionID string, msg ServerMessage) {
	for _, session := range s.sessionManager.SessionsForGame(gameID) {
		if session.ConnectionID == excludeConnectionID {
			continue
		}

		conn := s.connectionManager.GetConnection(session.ConnectionID)
		if conn == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		if err := s.sendMessage(conn, ctx, msg); err != nil {
			log.Printf("Failed to broadcast to %s: %v", session.UserID, err)
		}
		cancel()
	}
}

func (s *Server) handleCreateGame(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	if err := ValidateUserID(req.UserID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	gameID, seat, state, err := s.dispatcher.CreateGame(ctx, req.UserID, req.Visibility, req.InitialBalance)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.sessionManager.StoreSession(Session{
		ConnectionID: connectionID,
		GameID:       gameID,
		UserID:       req.UserID,
		APNToken:     req.APNToken,
		SeatNumber:   seat,
	})

	response := ServerMessage{
		Type: "game_created",
		Data: GameCreatedData{
			GameID:     gameID,
			SeatNumber: seat,
			State:      state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send game_created: %v", err)
	}
}

func (s *Server) handleJoinGame(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	if err := ValidateUserID(req.UserID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}
	gameID := NormalizeGameCode(req.GameID)
	if err := ValidateGameCode(gameID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	seat, state, err := s.dispatcher.JoinGame(ctx, gameID, req.UserID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.sessionManager.StoreSession(Session{
		ConnectionID: connectionID,
		GameID:       gameID,
		UserID:       req.UserID,
		APNToken:     req.APNToken,
		SeatNumber:   seat,
	})

	response := ServerMessage{
		Type: "game_joined",
		Data: GameJoinedData{
			GameID:     gameID,
			SeatNumber: seat,
			State:      state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send game_joined: %v", err)
	}

	s.broadcastToGame(gameID, connectionID, ServerMessage{
		Type: "player_joined",
		Data: PlayerEventData{
			SeatNumber: seat,
			UserID:     req.UserID,
			State:      state,
		},
	})
}

func (s *Server) handleStartRound(socket *websocket.Conn, ctx context.Context, connectionID string) {
	session, err := s.sessionManager.GetSession(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	state, err := s.dispatcher.StartRound(ctx, session.GameID, session.UserID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	response := ServerMessage{
		Type: "round_started",
		Data: GameStateData{State: state},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send round_started: %v", err)
	}

	s.broadcastToGame(session.GameID, connectionID, ServerMessage{
		Type: "betting_started",
		Data: GameStateData{State: state},
	})
}

func (s *Server) handlePlaceBet(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	session, err := s.sessionManager.GetSession(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	state, err := s.dispatcher.PlaceBet(ctx, session.GameID, session.UserID, req.BetAmount)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	response := ServerMessage{
		Type: "bet_placed",
		Data: GameStateData{State: state},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send bet_placed: %v", err)
	}

	s.broadcastToGame(session.GameID, connectionID, ServerMessage{
		Type: "player_bet_placed",
		Data: PlayerEventData{
			SeatNumber: session.SeatNumber,
			UserID:     session.UserID,
			State:      state,
		},
	})
}

// turn action wiring: result type to the actor, event type to the rest.
var turnActionMessages = map[string]struct {
	result    string
	broadcast string
}{
	"hit":         {"card_dealt", "player_hit"},
	"stand":       {"stand_complete", "player_stood"},
	"double_down": {"double_down_complete", "player_doubled_down"},
	"split":       {"split_complete", "player_split"},
}

func (s *Server) handleTurnAction(socket *websocket.Conn, ctx context.Context, connectionID, action string) {
	session, err := s.sessionManager.GetSession(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	var state blackjack.ClientState
	switch action {
	case "hit":
		state, err = s.dispatcher.Hit(ctx, session.GameID, session.UserID)
	case "stand":
		state, err = s.dispatcher.Stand(ctx, session.GameID, session.UserID)
	case "double_down":
		state, err = s.dispatcher.DoubleDown(ctx, session.GameID, session.UserID)
	case "split":
		state, err = s.dispatcher.Split(ctx, session.GameID, session.UserID)
	}
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	messages := turnActionMessages[action]
	response := ServerMessage{
		Type: messages.result,
		Data: GameStateData{State: state},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send %s: %v", messages.result, err)
	}

	s.broadcastToGame(session.GameID, connectionID, ServerMessage{
		Type: messages.broadcast,
		Data: PlayerEventData{
			SeatNumber: session.SeatNumber,
			UserID:     session.UserID,
			State:      state,
		},
	})
}

func (s *Server) handleGetGame(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	gameID := NormalizeGameCode(req.GameID)
	if gameID == "" {
		session, err := s.sessionManager.GetSession(connectionID)
		if err != nil {
			s.sendError(socket, ctx, err.Error())
			return
		}
		gameID = session.GameID
	}

	state, err := s.dispatcher.GetGame(ctx, gameID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	response := ServerMessage{
		Type: "game_state",
		Data: GameStateData{State: state},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send game_state: %v", err)
	}
}

func (s *Server) handleGetBalance(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	userID := req.UserID
	if userID == "" {
		session, err := s.sessionManager.GetSession(connectionID)
		if err != nil {
			s.sendError(socket, ctx, err.Error())
			return
		}
		userID = session.UserID
	}

	balance, err := s.dispatcher.GetBalance(ctx, userID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	response := ServerMessage{
		Type: "user_balance",
		Data: UserBalanceData{UserID: userID, Balance: balance},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send user_balance: %v", err)
	}
}

func (s *Server) handleReconnect(socket *websocket.Conn, ctx context.Context, connectionID string, req ActionRequest) {
	if err := ValidateUserID(req.UserID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}
	gameID := NormalizeGameCode(req.GameID)
	if err := ValidateGameCode(gameID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	seat, state, err := s.dispatcher.Reconnect(ctx, gameID, req.UserID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// Kick any older connection still holding this identity. The
	// session goes first so the old socket's disconnect handler finds
	// nothing and cannot vacate the seat being handed over.
	if old, ok := s.sessionManager.FindByUser(gameID, req.UserID); ok && old.ConnectionID != connectionID {
		s.sessionManager.RemoveSession(old.ConnectionID)
		if oldConn := s.connectionManager.GetConnection(old.ConnectionID); oldConn != nil {
			s.sendMessage(oldConn, context.Background(), ServerMessage{
				Type:    "disconnected_elsewhere",
				Message: "You connected on another device",
			})
			oldConn.Close(websocket.StatusNormalClosure, "Connected from another device")
		}
	}

	s.sessionManager.StoreSession(Session{
		ConnectionID: connectionID,
		GameID:       gameID,
		UserID:       req.UserID,
		APNToken:     req.APNToken,
		SeatNumber:   seat,
	})

	response := ServerMessage{
		Type: "reconnected",
		Data: ReconnectedData{
			GameID:     gameID,
			SeatNumber: seat,
			State:      state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send reconnected: %v", err)
	}
}

func (s *Server) handleLeaveGame(socket *websocket.Conn, ctx context.Context, connectionID string) {
	session, err := s.sessionManager.GetSession(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	state, empty, err := s.dispatcher.LeaveGame(ctx, session.GameID, session.UserID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.sessionManager.RemoveSession(connectionID)

	response := ServerMessage{
		Type: "left_game",
		Data: LeftGameData{GameID: session.GameID},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send left_game: %v", err)
	}

	if !empty {
		s.broadcastToGame(session.GameID, connectionID, ServerMessage{
			Type: "player_left",
			Data: PlayerEventData{
				SeatNumber: session.SeatNumber,
				UserID:     session.UserID,
				State:      state,
			},
		})
	}
}
