package blackjack

import "strconv"

// ClientSeat is the client-visible projection of a seat.
type ClientSeat struct {
	SeatNumber    int    `json:"player_number"`
	UserID        string `json:"user_id"`
	Balance       int    `json:"balance"`
	Hand          []Card `json:"hand"`
	SplitHand     []Card `json:"split_hand,omitempty"`
	HandValue     int    `json:"hand_value"`
	SplitValue    int    `json:"split_value,omitempty"`
	CurrentBet    int    `json:"current_bet"`
	SplitBet      int    `json:"split_bet"`
	HasBet        bool   `json:"has_bet"`
	HasActed      bool   `json:"has_acted"`
	Stood         bool   `json:"stood"`
	Busted        bool   `json:"busted"`
	SplitStood    bool   `json:"split_stood"`
	SplitBusted   bool   `json:"split_busted"`
	Result        Result `json:"result,omitempty"`
	SplitResult   Result `json:"split_result,omitempty"`
	CanDoubleDown bool   `json:"can_double_down"`
	CanSplit      bool   `json:"can_split"`
	HasSplit      bool   `json:"has_split"`
	ActiveHand    string `json:"active_hand"`
}

// ClientState is the snapshot sent over the wire. It carries every
// dealt card but never the shoe itself, only the remaining count.
type ClientState struct {
	GameID         string                `json:"game_id"`
	DealerHand     []Card                `json:"dealer_hand"`
	Players        map[string]ClientSeat `json:"players"`
	Phase          Phase                 `json:"phase"`
	CurrentTurn    *int                  `json:"current_player_turn"`
	RoundActive    bool                  `json:"round_active"`
	CardsRemaining int                   `json:"cards_remaining"`
	Visibility     string                `json:"visibility"`
}

func (t *Table) ClientState() ClientState {
	players := make(map[string]ClientSeat, len(t.Seats))
	for num, seat := range t.Seats {
		cs := ClientSeat{
			SeatNumber:    seat.Number,
			UserID:        seat.UserID,
			Balance:       seat.Balance,
			Hand:          append([]Card(nil), seat.Hand.Cards...),
			HandValue:     seat.Hand.Value(),
			CurrentBet:    seat.Bet,
			SplitBet:      seat.SplitBet,
			HasBet:        seat.HasBet,
			HasActed:      seat.HasActed,
			Stood:         seat.Stood,
			Busted:        seat.Busted,
			SplitStood:    seat.SplitStood,
			SplitBusted:   seat.SplitBust,
			Result:        seat.Result,
			SplitResult:   seat.SplitResult,
			CanDoubleDown: seat.CanDoubleDown,
			CanSplit:      seat.CanSplit,
			HasSplit:      seat.HasSplit,
			ActiveHand:    string(seat.Active),
		}
		if seat.Split != nil {
			cs.SplitHand = append([]Card(nil), seat.Split.Cards...)
			cs.SplitValue = seat.Split.Value()
		}
		players[strconv.Itoa(num)] = cs
	}

	var turn *int
	if t.CurrentTurn != 0 {
		n := t.CurrentTurn
		turn = &n
	}

	return ClientState{
		GameID:         t.GameID,
		DealerHand:     append([]Card(nil), t.DealerHand.Cards...),
		Players:        players,
		Phase:          t.Phase,
		CurrentTurn:    turn,
		RoundActive:    t.RoundActive,
		CardsRemaining: t.Shoe.Count(),
		Visibility:     t.Visibility,
	}
}
