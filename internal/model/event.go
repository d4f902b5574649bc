package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind identifies what happened to the raffle.
type EventKind string

const (
	EventEntryRecorded       EventKind = "ENTRY_RECORDED"
	EventRequestedRandomness EventKind = "REQUESTED_RANDOMNESS"
	EventWinnerPicked        EventKind = "WINNER_PICKED"
)

// Event is emitted after a raffle operation commits.
type Event struct {
	ID        string
	Kind      EventKind
	Round     uint64
	Player    common.Address // EntryRecorded
	Players   int            // player count after the entry
	Pot       *big.Int       // pot after the entry
	RequestID *big.Int       // RequestedRandomness
	Winner    common.Address // WinnerPicked
	Amount    *big.Int       // amount paid to Winner
	At        time.Time
}

func newEvent(kind EventKind, round uint64, at time.Time) *Event {
	return &Event{ID: uuid.NewString(), Kind: kind, Round: round, At: at}
}

// NewEntryRecorded builds the event for an accepted entry.
func NewEntryRecorded(round uint64, player common.Address, players int, pot *big.Int, at time.Time) *Event {
	ev := newEvent(EventEntryRecorded, round, at)
	ev.Player = player
	ev.Players = players
	ev.Pot = new(big.Int).Set(pot)
	return ev
}

// NewRequestedRandomness builds the event for an issued randomness request.
func NewRequestedRandomness(round uint64, requestID *big.Int, at time.Time) *Event {
	ev := newEvent(EventRequestedRandomness, round, at)
	ev.RequestID = new(big.Int).Set(requestID)
	return ev
}

// NewWinnerPicked builds the event for a settled round.
func NewWinnerPicked(round uint64, requestID *big.Int, winner common.Address, amount *big.Int, at time.Time) *Event {
	ev := newEvent(EventWinnerPicked, round, at)
	ev.RequestID = new(big.Int).Set(requestID)
	ev.Winner = winner
	ev.Amount = new(big.Int).Set(amount)
	return ev
}
