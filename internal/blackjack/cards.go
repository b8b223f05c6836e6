package blackjack

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

type Suit string

const (
	Hearts   Suit = "hearts"
	Diamonds Suit = "diamonds"
	Clubs    Suit = "clubs"
	Spades   Suit = "spades"
)

var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

type Rank string

var Ranks = []Rank{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

// Value returns the blackjack face value. Aces count as 11 here; the
// hand evaluator demotes them to 1 as needed.
func (c Card) Value() int {
	switch c.Rank {
	case "A":
		return 11
	case "J", "Q", "K", "10":
		return 10
	default:
		return int(c.Rank[0] - '0')
	}
}

func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.Rank, c.Suit)
}

const (
	// ShoeDecks is how many 52-card decks make up a full shoe.
	ShoeDecks = 6
	// ReshuffleThreshold is the card count below which the shoe is
	// rebuilt before the next deal.
	ReshuffleThreshold = 52
)

// ErrShoeExhausted means a draw was attempted on an empty shoe. The
// reshuffle checkpoint before each deal makes this unreachable in
// correct operation, so callers treat it as fatal to the round.
var ErrShoeExhausted = errors.New("INTERNAL_ERROR: Shoe exhausted without reshuffle")

// Shoe is the multi-deck pool a table draws from. The top of the shoe
// is the end of the slice.
type Shoe struct {
	Cards []Card `json:"cards"`
}

func NewShoe(deckCount int) *Shoe {
	cards := make([]Card, 0, deckCount*52)
	for range deckCount {
		for _, suit := range Suits {
			for _, rank := range Ranks {
				cards = append(cards, Card{Rank: rank, Suit: suit})
			}
		}
	}
	return &Shoe{Cards: cards}
}

func (s *Shoe) Shuffle() {
	rand.Shuffle(len(s.Cards), func(i, j int) {
		s.Cards[i], s.Cards[j] = s.Cards[j], s.Cards[i]
	})
}

func (s *Shoe) Count() int {
	return len(s.Cards)
}

func (s *Shoe) Draw() (Card, error) {
	if len(s.Cards) == 0 {
		return Card{}, ErrShoeExhausted
	}
	card := s.Cards[len(s.Cards)-1]
	s.Cards = s.Cards[:len(s.Cards)-1]
	return card, nil
}

// NeedsReshuffle reports whether the shoe is below the rebuild
// threshold. Checked only between rounds, never mid-deal.
func (s *Shoe) NeedsReshuffle() bool {
	return len(s.Cards) < ReshuffleThreshold
}

func (s *Shoe) Clone() *Shoe {
	cards := make([]Card, len(s.Cards))
	copy(cards, s.Cards)
	return &Shoe{Cards: cards}
}
