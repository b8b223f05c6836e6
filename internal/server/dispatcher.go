package server

import (
	"context"
	"errors"
	"log"

	"blackjack-server/internal/blackjack"
)

// DefaultInitialBalance seeds tables and first-seen users.
const DefaultInitialBalance = 1000

// maxCommitRetries bounds how often a lost CompareAndSwap race is
// recomputed before the caller gets a CONFLICT.
const maxCommitRetries = 3

var ErrConflict = errors.New("CONFLICT: Table is busy, retry")

// ChipsLedger is the durable per-user chip balance.
type ChipsLedger interface {
	Balance(ctx context.Context, userID string, fallback int) (int, error)
	SetBalance(ctx context.Context, userID string, balance int) error
}

// HandRecord is one finished hand's history entry: the bet, how it
// resolved, and the seat's balance after resolution. A split produces
// two records per seat.
type HandRecord struct {
	SeatNumber int
	UserID     string
	Hand       string // "primary" or "split"
	Bet        int
	Result     blackjack.Result
	Balance    int
}

// HistorySink records every finished hand.
type HistorySink interface {
	RecordHands(ctx context.Context, gameID string, records []HandRecord) error
}

// TableSaver writes committed table snapshots through to storage.
type TableSaver interface {
	SaveTable(ctx context.Context, record *TableRecord) error
}

// Dispatcher turns validated client actions into table transitions.
// Every mutation runs as read-snapshot, deep-clone, pure transition,
// CompareAndSwap; a failed swap means another action committed first
// and the transition is recomputed against the fresh snapshot.
type Dispatcher struct {
	store   *TableStore
	ledger  ChipsLedger
	history HistorySink
	saver   TableSaver
}

func NewDispatcher(store *TableStore, ledger ChipsLedger, history HistorySink, saver TableSaver) *Dispatcher {
	return &Dispatcher{
		store:   store,
		ledger:  ledger,
		history: history,
		saver:   saver,
	}
}

func (d *Dispatcher) applyTable(ctx context.Context, gameID string, transition func(*blackjack.Table) error) (blackjack.ClientState, error) {
	for range maxCommitRetries {
		record, err := d.store.Get(gameID)
		if err != nil {
			return blackjack.ClientState{}, err
		}

		clone := record.Table.Clone()
		if err := transition(clone); err != nil {
			return blackjack.ClientState{}, err
		}

		switch err := d.store.CompareAndSwap(gameID, record.Version, clone); {
		case err == nil:
			d.afterCommit(ctx, gameID, record.Table, clone)
			return clone.ClientState(), nil
		case errors.Is(err, ErrVersionStale):
			continue
		default:
			return blackjack.ClientState{}, err
		}
	}
	return blackjack.ClientState{}, ErrConflict
}

// afterCommit pushes side effects of a committed transition: the
// snapshot goes to storage, and a round that just finished syncs every
// seat's balance to the ledger and lands in the history sink. All of
// it is best effort; the in-memory commit already stands.
func (d *Dispatcher) afterCommit(ctx context.Context, gameID string, before, after *blackjack.Table) {
	if record, err := d.store.Get(gameID); err == nil {
		if err := d.saver.SaveTable(ctx, record); err != nil {
			log.Printf("Write-through save failed for game %s: %v", gameID, err)
		}
	}

	if after.Phase != blackjack.PhaseRoundOver || before.Phase == blackjack.PhaseRoundOver {
		return
	}

	var records []HandRecord
	for _, num := range after.SeatNumbers() {
		seat := after.Seats[num]
		if err := d.ledger.SetBalance(ctx, seat.UserID, seat.Balance); err != nil {
			log.Printf("Balance sync failed for user %s: %v", seat.UserID, err)
		}
		if !seat.HasBet {
			continue
		}
		records = append(records, HandRecord{
			SeatNumber: num,
			UserID:     seat.UserID,
			Hand:       "primary",
			Bet:        seat.Bet,
			Result:     seat.Result,
			Balance:    seat.Balance,
		})
		if seat.HasSplit {
			records = append(records, HandRecord{
				SeatNumber: num,
				UserID:     seat.UserID,
				Hand:       "split",
				Bet:        seat.SplitBet,
				Result:     seat.SplitResult,
				Balance:    seat.Balance,
			})
		}
	}
	if err := d.history.RecordHands(ctx, gameID, records); err != nil {
		log.Printf("History record failed for game %s: %v", gameID, err)
	}
}

// CreateGame makes a fresh table with the creator in seat 1.
func (d *Dispatcher) CreateGame(ctx context.Context, userID, visibility string, initialBalance int) (string, int, blackjack.ClientState, error) {
	if visibility != "public" {
		visibility = "private"
	}
	if initialBalance <= 0 {
		initialBalance = DefaultInitialBalance
	}

	balance, err := d.ledger.Balance(ctx, userID, initialBalance)
	if err != nil {
		log.Printf("Ledger read failed for user %s: %v", userID, err)
		balance = initialBalance
	}

	gameID := d.store.NewGameID()
	table := blackjack.NewTable(gameID, visibility, initialBalance)
	seat, err := table.AddSeat(userID, balance)
	if err != nil {
		return "", 0, blackjack.ClientState{}, err
	}

	record := d.store.Put(table)
	if err := d.saver.SaveTable(ctx, record); err != nil {
		log.Printf("Write-through save failed for game %s: %v", gameID, err)
	}
	return gameID, seat, table.ClientState(), nil
}

// JoinGame seats a user at an existing table. The seat's starting
// chips come from the ledger, falling back to the table's configured
// initial balance for first-time users.
func (d *Dispatcher) JoinGame(ctx context.Context, gameID, userID string) (int, blackjack.ClientState, error) {
	record, err := d.store.Get(gameID)
	if err != nil {
		return 0, blackjack.ClientState{}, err
	}

	balance, err := d.ledger.Balance(ctx, userID, record.Table.InitialBalance)
	if err != nil {
		log.Printf("Ledger read failed for user %s: %v", userID, err)
		balance = record.Table.InitialBalance
	}

	var seat int
	state, err := d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat, err = table.AddSeat(userID, balance)
		return err
	})
	return seat, state, err
}

func (d *Dispatcher) StartRound(ctx context.Context, gameID, userID string) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		if table.SeatByUser(userID) == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.StartRound()
	})
}

func (d *Dispatcher) PlaceBet(ctx context.Context, gameID, userID string, amount int) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.PlaceBet(seat.Number, amount)
	})
}

func (d *Dispatcher) Hit(ctx context.Context, gameID, userID string) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.Hit(seat.Number)
	})
}

func (d *Dispatcher) Stand(ctx context.Context, gameID, userID string) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.Stand(seat.Number)
	})
}

func (d *Dispatcher) DoubleDown(ctx context.Context, gameID, userID string) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.DoubleDown(seat.Number)
	})
}

func (d *Dispatcher) Split(ctx context.Context, gameID, userID string) (blackjack.ClientState, error) {
	return d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		return table.Split(seat.Number)
	})
}

// GetGame returns the committed snapshot without mutating anything.
func (d *Dispatcher) GetGame(ctx context.Context, gameID string) (blackjack.ClientState, error) {
	record, err := d.store.Get(gameID)
	if err != nil {
		return blackjack.ClientState{}, err
	}
	return record.Table.ClientState(), nil
}

func (d *Dispatcher) GetBalance(ctx context.Context, userID string) (int, error) {
	return d.ledger.Balance(ctx, userID, DefaultInitialBalance)
}

// Reconnect validates that the user still holds a seat and returns the
// current snapshot.
func (d *Dispatcher) Reconnect(ctx context.Context, gameID, userID string) (int, blackjack.ClientState, error) {
	record, err := d.store.Get(gameID)
	if err != nil {
		return 0, blackjack.ClientState{}, err
	}
	seat := record.Table.SeatByUser(userID)
	if seat == nil {
		return 0, blackjack.ClientState{}, blackjack.ErrSeatNotFound
	}
	return seat.Number, record.Table.ClientState(), nil
}

// LeaveGame removes the user's seat. The final balance is synced to
// the ledger, and a table left with no seats is tombstoned. Returns
// whether the table emptied out.
func (d *Dispatcher) LeaveGame(ctx context.Context, gameID, userID string) (blackjack.ClientState, bool, error) {
	var balance int
	state, err := d.applyTable(ctx, gameID, func(table *blackjack.Table) error {
		seat := table.SeatByUser(userID)
		if seat == nil {
			return blackjack.ErrSeatNotFound
		}
		balance = seat.Balance
		return table.RemoveSeat(seat.Number)
	})
	if err != nil {
		return blackjack.ClientState{}, false, err
	}

	if err := d.ledger.SetBalance(ctx, userID, balance); err != nil {
		log.Printf("Balance sync failed for user %s: %v", userID, err)
	}

	empty := len(state.Players) == 0
	if empty {
		d.store.Tombstone(gameID)
	}
	return state, empty, nil
}
