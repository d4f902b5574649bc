package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleState is the lifecycle state of the current round.
type RaffleState uint8

const (
	StateOpen        RaffleState = 0
	StateCalculating RaffleState = 1
)

func (s RaffleState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return "UNKNOWN"
	}
}

// Round is the single raffle record. It is mutated in place and never deleted.
type Round struct {
	Number        uint64           `json:"number"`
	State         RaffleState      `json:"state"`
	Players       []common.Address `json:"players"`
	Pot           *big.Int         `json:"pot"`
	LastSettledAt time.Time        `json:"last_settled_at"`
	RecentWinner  common.Address   `json:"recent_winner"`
}

// NewRound returns the initial round: open, empty, settled at createdAt.
func NewRound(createdAt time.Time) *Round {
	return &Round{
		Number:        1,
		State:         StateOpen,
		Pot:           new(big.Int),
		LastSettledAt: createdAt,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *Round) Clone() *Round {
	c := *r
	c.Players = append([]common.Address(nil), r.Players...)
	if r.Pot != nil {
		c.Pot = new(big.Int).Set(r.Pot)
	} else {
		c.Pot = new(big.Int)
	}
	return &c
}

// PendingRequest is the outstanding randomness request, if any.
type PendingRequest struct {
	RequestID   *big.Int  `json:"request_id"`
	Round       uint64    `json:"round"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p *PendingRequest) Clone() *PendingRequest {
	if p == nil {
		return nil
	}
	c := *p
	c.RequestID = new(big.Int).Set(p.RequestID)
	return &c
}
