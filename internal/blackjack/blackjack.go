package blackjack

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const MaxSeats = 5

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseBetting    Phase = "betting"
	PhasePlaying    Phase = "playing"
	PhaseDealerTurn Phase = "dealer_turn"
	PhaseRoundOver  Phase = "round_over"
)

type Result string

const (
	ResultWin       Result = "win"
	ResultLose      Result = "lose"
	ResultPush      Result = "push"
	ResultBlackjack Result = "blackjack"
)

// HandSelector names which of a seat's hands is eligible for action.
type HandSelector string

const (
	PrimaryHand HandSelector = "primary"
	SplitHand   HandSelector = "split"
)

var (
	ErrGameFull            = errors.New("GAME_FULL: Game is full")
	ErrAlreadySeated       = errors.New("ALREADY_IN_GAME: User already seated at this table")
	ErrNoPlayers           = errors.New("NO_PLAYERS: No players in game")
	ErrSeatNotFound        = errors.New("NOT_IN_GAME: You are not a player in this game")
	ErrNotYourTurn         = errors.New("NOT_YOUR_TURN: Not your turn")
	ErrInvalidBet          = errors.New("INVALID_BET: Invalid bet amount")
	ErrAlreadyBet          = errors.New("ALREADY_BET: Bet already placed for this round")
	ErrCannotDouble        = errors.New("CANNOT_DOUBLE: Cannot double down")
	ErrCannotSplit         = errors.New("CANNOT_SPLIT: Cannot split this hand")
	ErrInsufficientBalance = errors.New("INSUFFICIENT_BALANCE: Insufficient balance")
)

func wrongPhase(action string) error {
	return fmt.Errorf("WRONG_PHASE: Cannot %s in current phase", action)
}

// Seat is one player's slot at the table. Seat numbers are assigned at
// join and never reused for the lifetime of the table.
type Seat struct {
	Number     int    `json:"seat_number"`
	UserID     string `json:"user_id"`
	Balance    int    `json:"balance"`
	Hand       *Hand  `json:"hand"`
	Split      *Hand  `json:"split_hand,omitempty"`
	Bet        int    `json:"current_bet"`
	SplitBet   int    `json:"split_bet"`
	HasBet     bool   `json:"has_bet"`
	HasActed   bool   `json:"has_acted"`
	Stood      bool   `json:"stood"`
	Busted     bool   `json:"busted"`
	SplitStood bool   `json:"split_stood"`
	SplitBust  bool   `json:"split_busted"`

	Result      Result `json:"result,omitempty"`
	SplitResult Result `json:"split_result,omitempty"`

	CanDoubleDown bool `json:"can_double_down"`
	CanSplit      bool `json:"can_split"`
	HasSplit      bool `json:"has_split"`

	// Active selects which hand the seat is currently playing. Only
	// meaningful after a split; otherwise always the primary hand.
	Active HandSelector `json:"active_hand"`
}

func (s *Seat) activeHand() *Hand {
	if s.HasSplit && s.Active == SplitHand {
		return s.Split
	}
	return s.Hand
}

func (s *Seat) activeBet() int {
	if s.HasSplit && s.Active == SplitHand {
		return s.SplitBet
	}
	return s.Bet
}

func (s *Seat) primaryDone() bool {
	return s.Stood || s.Busted
}

func (s *Seat) splitDone() bool {
	return s.SplitStood || s.SplitBust
}

// done reports whether every hand the seat holds is terminal. A seat
// with no bet this round (joined mid-round) holds no hand obligation.
func (s *Seat) done() bool {
	if !s.HasBet {
		return true
	}
	if !s.primaryDone() {
		return false
	}
	if s.HasSplit {
		return s.splitDone()
	}
	return true
}

func (s *Seat) resetForRound() {
	s.Hand = NewHand()
	s.Split = nil
	s.Bet = 0
	s.SplitBet = 0
	s.HasBet = false
	s.HasActed = false
	s.Stood = false
	s.Busted = false
	s.SplitStood = false
	s.SplitBust = false
	s.Result = ""
	s.SplitResult = ""
	s.CanDoubleDown = false
	s.CanSplit = false
	s.HasSplit = false
	s.Active = PrimaryHand
}

func (s *Seat) Clone() *Seat {
	clone := *s
	clone.Hand = s.Hand.Clone()
	clone.Split = s.Split.Clone()
	return &clone
}

// Table is the whole per-game state. All methods mutate in place; the
// concurrency gateway only ever calls them on a private clone and
// commits the clone atomically, so a failed action never leaks a
// half-applied state.
type Table struct {
	GameID         string        `json:"game_id"`
	Shoe           *Shoe         `json:"shoe"`
	DealerHand     *Hand         `json:"dealer_hand"`
	Seats          map[int]*Seat `json:"seats"`
	Phase          Phase         `json:"phase"`
	CurrentTurn    int           `json:"current_player_turn"` // 0 when no seat holds the turn
	RoundActive    bool          `json:"round_active"`
	Visibility     string        `json:"visibility"`
	InitialBalance int           `json:"initial_balance"`
	NextSeat       int           `json:"next_seat"` // lowest never-assigned seat number
	CreatedAt      int64         `json:"created_at"`
}

func NewTable(gameID, visibility string, initialBalance int) *Table {
	shoe := NewShoe(ShoeDecks)
	shoe.Shuffle()
	return &Table{
		GameID:         gameID,
		Shoe:           shoe,
		DealerHand:     NewHand(),
		Seats:          make(map[int]*Seat),
		Phase:          PhaseWaiting,
		Visibility:     visibility,
		InitialBalance: initialBalance,
		NextSeat:       1,
		CreatedAt:      time.Now().Unix(),
	}
}

func (t *Table) Clone() *Table {
	clone := *t
	clone.Shoe = t.Shoe.Clone()
	clone.DealerHand = t.DealerHand.Clone()
	clone.Seats = make(map[int]*Seat, len(t.Seats))
	for num, seat := range t.Seats {
		clone.Seats[num] = seat.Clone()
	}
	return &clone
}

// SeatNumbers returns the occupied seat numbers in ascending order.
func (t *Table) SeatNumbers() []int {
	numbers := make([]int, 0, len(t.Seats))
	for num := range t.Seats {
		numbers = append(numbers, num)
	}
	slices.Sort(numbers)
	return numbers
}

func (t *Table) SeatByUser(userID string) *Seat {
	for _, num := range t.SeatNumbers() {
		if t.Seats[num].UserID == userID {
			return t.Seats[num]
		}
	}
	return nil
}

// AddSeat seats a user on the lowest seat number that has never been
// assigned. Departed numbers are not reused, so a table that has seen
// five distinct players is full for good.
func (t *Table) AddSeat(userID string, balance int) (int, error) {
	if len(t.Seats) >= MaxSeats || t.NextSeat > MaxSeats {
		return 0, ErrGameFull
	}
	if t.SeatByUser(userID) != nil {
		return 0, ErrAlreadySeated
	}
	number := t.NextSeat
	t.NextSeat++
	t.Seats[number] = &Seat{
		Number:  number,
		UserID:  userID,
		Balance: balance,
		Hand:    NewHand(),
		Active:  PrimaryHand,
	}
	return number, nil
}

// RemoveSeat drops a seat from the table without renumbering the rest.
// If the departing seat held the turn the round is settled forward,
// which may run the dealer and resolve the round for whoever remains.
func (t *Table) RemoveSeat(number int) error {
	if _, ok := t.Seats[number]; !ok {
		return ErrSeatNotFound
	}
	hadTurn := t.CurrentTurn == number
	delete(t.Seats, number)

	if len(t.Seats) == 0 {
		t.CurrentTurn = 0
		return nil
	}

	switch t.Phase {
	case PhasePlaying:
		if hadTurn {
			t.CurrentTurn = 0
			return t.settle()
		}
	case PhaseBetting:
		// The departed seat may have been the last one holding up the deal.
		if t.allBetsPlaced() {
			return t.deal()
		}
	}
	return nil
}

// StartRound resets per-seat transient state and opens betting. The
// shoe is rebuilt here when it has dropped below the threshold, so a
// reshuffle can never land mid-deal.
func (t *Table) StartRound() error {
	if t.Phase != PhaseWaiting && t.Phase != PhaseRoundOver {
		return wrongPhase("start round")
	}
	if len(t.Seats) == 0 {
		return ErrNoPlayers
	}

	for _, seat := range t.Seats {
		seat.resetForRound()
	}
	t.DealerHand = NewHand()
	t.CurrentTurn = 0
	t.RoundActive = true

	if t.Shoe.NeedsReshuffle() {
		t.Shoe = NewShoe(ShoeDecks)
		t.Shoe.Shuffle()
	}

	t.Phase = PhaseBetting
	return nil
}

// PlaceBet records a seat's bet and deducts it from the balance. Once
// every seated player has bet, the deal runs automatically.
func (t *Table) PlaceBet(seatNumber, amount int) error {
	if t.Phase != PhaseBetting {
		return wrongPhase("place bet")
	}
	seat, ok := t.Seats[seatNumber]
	if !ok {
		return ErrSeatNotFound
	}
	if seat.HasBet {
		return ErrAlreadyBet
	}
	if amount <= 0 || amount > seat.Balance {
		return ErrInvalidBet
	}

	seat.Bet = amount
	seat.Balance -= amount
	seat.HasBet = true

	if t.allBetsPlaced() {
		return t.deal()
	}
	return nil
}

func (t *Table) allBetsPlaced() bool {
	for _, seat := range t.Seats {
		if !seat.HasBet {
			return false
		}
	}
	return len(t.Seats) > 0
}

// deal hands out the opening cards: two passes over the seats in
// ascending order, dealer last in each pass. If the dealer shows a
// natural the round resolves on the spot.
func (t *Table) deal() error {
	numbers := t.SeatNumbers()
	for range 2 {
		for _, num := range numbers {
			card, err := t.Shoe.Draw()
			if err != nil {
				return err
			}
			t.Seats[num].Hand.Add(card)
		}
		card, err := t.Shoe.Draw()
		if err != nil {
			return err
		}
		t.DealerHand.Add(card)
	}

	if t.DealerHand.IsBlackjack() {
		for _, seat := range t.Seats {
			if seat.Hand.IsBlackjack() {
				seat.Result = ResultPush
				seat.Balance += seat.Bet
			} else {
				seat.Result = ResultLose
			}
			seat.Stood = true
			seat.HasActed = true
		}
		t.Phase = PhaseRoundOver
		t.RoundActive = false
		t.CurrentTurn = 0
		return nil
	}

	for _, seat := range t.Seats {
		seat.CanDoubleDown = true
		seat.CanSplit = seat.Hand.Cards[0].Rank == seat.Hand.Cards[1].Rank &&
			seat.Balance >= seat.Bet
		if seat.Hand.IsBlackjack() {
			// Naturals are locked in now; the payout waits for the dealer.
			seat.Stood = true
			seat.CanDoubleDown = false
			seat.CanSplit = false
		}
	}

	t.Phase = PhasePlaying
	return t.settle()
}

// Hit draws one card into the turn holder's active hand.
func (t *Table) Hit(seatNumber int) error {
	seat, err := t.turnSeat(seatNumber, "hit")
	if err != nil {
		return err
	}
	card, err := t.Shoe.Draw()
	if err != nil {
		return err
	}
	seat.activeHand().Add(card)
	seat.CanDoubleDown = false
	seat.CanSplit = false
	return t.settle()
}

// Stand marks the active hand finished.
func (t *Table) Stand(seatNumber int) error {
	seat, err := t.turnSeat(seatNumber, "stand")
	if err != nil {
		return err
	}
	if seat.HasSplit && seat.Active == SplitHand {
		seat.SplitStood = true
	} else {
		seat.Stood = true
	}
	seat.CanDoubleDown = false
	seat.CanSplit = false
	return t.settle()
}

// DoubleDown doubles the active hand's bet, draws exactly one card and
// force-stands the hand. Only legal as the first action on the hand.
func (t *Table) DoubleDown(seatNumber int) error {
	seat, err := t.turnSeat(seatNumber, "double down")
	if err != nil {
		return err
	}
	hand := seat.activeHand()
	if len(hand.Cards) != 2 {
		return ErrCannotDouble
	}
	bet := seat.activeBet()
	if bet > seat.Balance {
		return ErrInsufficientBalance
	}

	seat.Balance -= bet
	card, err := t.Shoe.Draw()
	if err != nil {
		// Nothing to unwind: the gateway discards this clone on error.
		return err
	}
	hand.Add(card)
	seat.CanDoubleDown = false
	seat.CanSplit = false

	if seat.HasSplit && seat.Active == SplitHand {
		seat.SplitBet *= 2
		if hand.IsBust() {
			seat.SplitBust = true
			seat.SplitResult = ResultLose
		} else {
			seat.SplitStood = true
		}
	} else {
		seat.Bet *= 2
		if hand.IsBust() {
			seat.Busted = true
			seat.Result = ResultLose
		} else {
			seat.Stood = true
		}
	}
	return t.settle()
}

// Split divides an untouched pair into two hands carrying equal bets,
// deals one card to each and leaves the turn on the same seat. The
// primary hand plays out first, then the split hand.
func (t *Table) Split(seatNumber int) error {
	seat, err := t.turnSeat(seatNumber, "split")
	if err != nil {
		return err
	}
	if seat.HasSplit {
		return ErrCannotSplit
	}
	if len(seat.Hand.Cards) != 2 || seat.Hand.Cards[0].Rank != seat.Hand.Cards[1].Rank {
		return ErrCannotSplit
	}
	if seat.Bet > seat.Balance {
		return ErrInsufficientBalance
	}

	split := NewHand(seat.Hand.Cards[1])
	seat.Hand.Cards = seat.Hand.Cards[:1]

	seat.Balance -= seat.Bet
	seat.SplitBet = seat.Bet
	seat.Split = split

	for _, hand := range []*Hand{seat.Hand, seat.Split} {
		card, err := t.Shoe.Draw()
		if err != nil {
			return err
		}
		hand.Add(card)
	}

	seat.HasSplit = true
	seat.CanSplit = false
	seat.CanDoubleDown = true
	seat.Active = PrimaryHand
	return t.settle()
}

func (t *Table) turnSeat(seatNumber int, action string) (*Seat, error) {
	if t.Phase != PhasePlaying {
		return nil, wrongPhase(action)
	}
	seat, ok := t.Seats[seatNumber]
	if !ok {
		return nil, ErrSeatNotFound
	}
	if t.CurrentTurn != seatNumber {
		return nil, ErrNotYourTurn
	}
	return seat, nil
}

// settle applies every automatic transition that follows a mutation
// until none apply: finishing busted or 21 hands, switching a split
// seat to its second hand, advancing the turn, running the dealer and
// resolving payouts. Centralizing the chain here keeps each action
// handler down to its own single mutation.
func (t *Table) settle() error {
	if t.Phase == PhasePlaying {
		for _, num := range t.SeatNumbers() {
			t.finishForcedHands(t.Seats[num])
		}
		t.CurrentTurn = t.nextTurn()
		if t.CurrentTurn == 0 {
			t.Phase = PhaseDealerTurn
		}
	}

	if t.Phase == PhaseDealerTurn {
		if err := t.dealerPlay(); err != nil {
			return err
		}
		t.resolve()
	}
	return nil
}

// finishForcedHands closes out hands that have no legal action left
// (busted, or sitting on 21) and flips a split seat onto its second
// hand once the first is terminal.
func (t *Table) finishForcedHands(seat *Seat) {
	if !seat.primaryDone() {
		if seat.Hand.IsBust() {
			seat.Busted = true
			seat.Result = ResultLose
		} else if seat.Hand.Value() == 21 {
			seat.Stood = true
		}
	}
	if seat.HasSplit && !seat.splitDone() {
		if seat.Split.IsBust() {
			seat.SplitBust = true
			seat.SplitResult = ResultLose
		} else if seat.Split.Value() == 21 {
			seat.SplitStood = true
		}
	}
	if seat.HasSplit && seat.Active == PrimaryHand && seat.primaryDone() {
		seat.Active = SplitHand
	}
	if seat.done() {
		seat.HasActed = true
	}
}

// nextTurn scans forward from the current seat for the next seat with
// an unfinished hand. Seats below the turn pointer are complete by
// invariant, so the scan never wraps.
func (t *Table) nextTurn() int {
	for _, num := range t.SeatNumbers() {
		if num < t.CurrentTurn {
			continue
		}
		if !t.Seats[num].done() {
			return num
		}
	}
	return 0
}

// dealerPlay runs the dealer's fixed strategy: hit on 16 or less,
// stand on any 17. When every player hand already busted the dealer
// has nothing to beat and draws no cards at all.
func (t *Table) dealerPlay() error {
	if t.anyLiveHand() {
		for t.DealerHand.Value() < 17 {
			card, err := t.Shoe.Draw()
			if err != nil {
				return err
			}
			t.DealerHand.Add(card)
		}
	}
	return nil
}

func (t *Table) anyLiveHand() bool {
	for _, seat := range t.Seats {
		if !seat.HasBet {
			continue
		}
		if !seat.Busted {
			return true
		}
		if seat.HasSplit && !seat.SplitBust {
			return true
		}
	}
	return false
}

// resolve compares every undecided hand against the dealer, pays out
// and closes the round. Busted hands already carry their result and
// their bet is already gone, so they see no further balance change.
func (t *Table) resolve() {
	dealerValue := t.DealerHand.Value()
	dealerBusted := t.DealerHand.IsBust()
	dealerNatural := t.DealerHand.IsBlackjack()

	for _, seat := range t.Seats {
		if !seat.HasBet {
			continue
		}

		if seat.Result == "" {
			value := seat.Hand.Value()
			natural := seat.Hand.IsBlackjack() && !seat.HasSplit

			switch {
			case natural && dealerNatural:
				seat.Result = ResultPush
				seat.Balance += seat.Bet
			case natural:
				seat.Result = ResultBlackjack
				seat.Balance += seat.Bet * 5 / 2 // 3:2, rounded down on odd bets
			case dealerNatural:
				seat.Result = ResultLose
			case dealerBusted:
				seat.Result = ResultWin
				seat.Balance += seat.Bet * 2
			case value > dealerValue:
				seat.Result = ResultWin
				seat.Balance += seat.Bet * 2
			case value < dealerValue:
				seat.Result = ResultLose
			default:
				seat.Result = ResultPush
				seat.Balance += seat.Bet
			}
		}

		if seat.HasSplit && seat.SplitResult == "" {
			// A post-split 21 is a plain 21, never a natural.
			value := seat.Split.Value()
			switch {
			case dealerNatural:
				seat.SplitResult = ResultLose
			case dealerBusted:
				seat.SplitResult = ResultWin
				seat.Balance += seat.SplitBet * 2
			case value > dealerValue:
				seat.SplitResult = ResultWin
				seat.Balance += seat.SplitBet * 2
			case value < dealerValue:
				seat.SplitResult = ResultLose
			default:
				seat.SplitResult = ResultPush
				seat.Balance += seat.SplitBet
			}
		}

		seat.HasActed = true
	}

	t.Phase = PhaseRoundOver
	t.RoundActive = false
	t.CurrentTurn = 0
}
