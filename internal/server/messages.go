package server

// ActionRequest is the single inbound message shape: a flat JSON
// object with a required action and whichever fields that action uses.
type ActionRequest struct {
	Action         string `json:"action"`
	GameID         string `json:"game_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	APNToken       string `json:"apn_token,omitempty"`
	Visibility     string `json:"visibility,omitempty"`
	InitialBalance int    `json:"initial_balance,omitempty"`
	BetAmount      int    `json:"bet_amount,omitempty"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}
