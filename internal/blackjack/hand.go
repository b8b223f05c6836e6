package blackjack

// Hand is an ordered set of cards. Totals and status are always
// computed from the cards so they can never drift from them.
type Hand struct {
	Cards []Card `json:"cards"`
}

func NewHand(cards ...Card) *Hand {
	h := &Hand{Cards: make([]Card, 0, 8)}
	h.Cards = append(h.Cards, cards...)
	return h
}

func (h *Hand) Add(card Card) {
	h.Cards = append(h.Cards, card)
}

// Value returns the best total: aces start at 11 and are demoted to 1
// one at a time while the total is over 21.
func (h *Hand) Value() int {
	value := 0
	aces := 0
	for _, card := range h.Cards {
		if card.Rank == "A" {
			aces++
		}
		value += card.Value()
	}
	for value > 21 && aces > 0 {
		value -= 10
		aces--
	}
	return value
}

// IsSoft reports whether an ace is still counted as 11 in the total.
func (h *Hand) IsSoft() bool {
	value := 0
	aces := 0
	for _, card := range h.Cards {
		if card.Rank == "A" {
			aces++
		}
		value += card.Value()
	}
	for value > 21 && aces > 0 {
		value -= 10
		aces--
	}
	return aces > 0
}

// IsBlackjack reports a two-card 21. Whether that counts as a natural
// also depends on the seat not having split; the table checks that.
func (h *Hand) IsBlackjack() bool {
	return len(h.Cards) == 2 && h.Value() == 21
}

func (h *Hand) IsBust() bool {
	return h.Value() > 21
}

func (h *Hand) Clone() *Hand {
	if h == nil {
		return nil
	}
	cards := make([]Card, len(h.Cards))
	copy(cards, h.Cards)
	return &Hand{Cards: cards}
}
