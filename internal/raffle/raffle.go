// Package raffle implements the round state machine: players enter an open
// round, the keeper closes it by requesting randomness once the interval has
// passed, and the coordinator's callback picks the winner, pays out the pot
// and reopens the round.
package raffle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"RaffleKeeper/internal/model"
	"RaffleKeeper/internal/store"
	"RaffleKeeper/internal/vrf"

	"github.com/ethereum/go-ethereum/common"
)

// Config is fixed for the lifetime of a Raffle.
type Config struct {
	EntranceFee          *big.Int
	Interval             time.Duration
	KeyHash              common.Hash
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// Sink receives events after the operation that produced them has committed.
type Sink interface {
	Publish(ev *model.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev *model.Event)

func (f SinkFunc) Publish(ev *model.Event) { f(ev) }

// Status is a consistent read of the raffle.
type Status struct {
	Round         uint64
	State         model.RaffleState
	Players       []common.Address
	Pot           *big.Int
	LastSettledAt time.Time
	RecentWinner  common.Address
	Pending       *model.PendingRequest
	EntranceFee   *big.Int
	Interval      time.Duration
	UpkeepNeeded  bool
}

// Raffle is the round state machine. Each exported operation runs under one
// lock and one store transaction; events are published after the lock is
// released.
type Raffle struct {
	mu    sync.Mutex
	cfg   Config
	store store.Store
	coord vrf.Coordinator
	sinks []Sink
	now   func() time.Time
}

// Option configures a Raffle.
type Option func(*Raffle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Raffle) { r.now = now }
}

// WithSink registers an event sink.
func WithSink(s Sink) Option {
	return func(r *Raffle) { r.sinks = append(r.sinks, s) }
}

// New creates a Raffle over st, initializing the round if st is empty.
// coord may be nil for processes that only enter or read; PerformUpkeep then fails.
func New(ctx context.Context, cfg Config, st store.Store, coord vrf.Coordinator, opts ...Option) (*Raffle, error) {
	if cfg.EntranceFee == nil || cfg.EntranceFee.Sign() < 0 {
		return nil, fmt.Errorf("raffle: invalid entrance fee")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("raffle: negative interval")
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = 1
	}
	cfg.EntranceFee = new(big.Int).Set(cfg.EntranceFee)

	r := &Raffle{cfg: cfg, store: st, coord: coord, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if err := store.Init(ctx, st, model.NewRound(r.now())); err != nil {
		return nil, fmt.Errorf("init round: %w", err)
	}
	return r, nil
}

// Enter adds player to the open round, paying value into the pot.
func (r *Raffle) Enter(ctx context.Context, player common.Address, value *big.Int) error {
	if value == nil || value.Cmp(r.cfg.EntranceFee) < 0 {
		paid := "0"
		if value != nil {
			paid = value.String()
		}
		return newError(ErrInsufficientPayment, map[string]string{
			"value":        paid,
			"entrance_fee": r.cfg.EntranceFee.String(),
		}, nil)
	}

	var ev *model.Event
	r.mu.Lock()
	err := r.store.Update(ctx, func(tx store.Tx) error {
		round, err := tx.Round()
		if err != nil {
			return err
		}
		if round.State != model.StateOpen {
			return newError(ErrRoundNotOpen, map[string]string{"state": round.State.String()}, nil)
		}
		round.Players = append(round.Players, player)
		round.Pot.Add(round.Pot, value)
		if err := tx.PutRound(round); err != nil {
			return err
		}
		ev = model.NewEntryRecorded(round.Number, player, len(round.Players), round.Pot, r.now())
		return nil
	})
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.publish(ev)
	return nil
}

// CheckUpkeep reports whether PerformUpkeep would currently succeed. It never
// writes and may be polled freely.
func (r *Raffle) CheckUpkeep(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var needed bool
	err := r.store.View(ctx, func(tx store.Tx) error {
		round, err := tx.Round()
		if err != nil {
			return err
		}
		needed = r.upkeepNeeded(round)
		return nil
	})
	return needed, err
}

func (r *Raffle) upkeepNeeded(round *model.Round) bool {
	isOpen := round.State == model.StateOpen
	hasPlayers := len(round.Players) > 0
	hasBalance := round.Pot.Sign() > 0
	timePassed := r.now().Sub(round.LastSettledAt) >= r.cfg.Interval
	return isOpen && hasPlayers && hasBalance && timePassed
}

// PerformUpkeep closes the round and requests randomness. The gate is
// evaluated again here; an earlier CheckUpkeep result is not trusted.
// performData is ignored.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error) {
	if r.coord == nil {
		return nil, fmt.Errorf("raffle: no randomness coordinator configured")
	}

	var (
		requestID *big.Int
		ev        *model.Event
	)
	r.mu.Lock()
	err := r.store.Update(ctx, func(tx store.Tx) error {
		round, err := tx.Round()
		if err != nil {
			return err
		}
		if !r.upkeepNeeded(round) {
			return newError(ErrUpkeepNotNeeded, map[string]string{
				"pot":     round.Pot.String(),
				"players": strconv.Itoa(len(round.Players)),
				"state":   round.State.String(),
			}, nil)
		}

		round.State = model.StateCalculating
		if err := tx.PutRound(round); err != nil {
			return err
		}

		requestID, err = r.coord.RequestRandomWords(ctx, vrf.Request{
			KeyHash:                     r.cfg.KeyHash,
			SubscriptionID:              r.cfg.SubscriptionID,
			MinimumRequestConfirmations: r.cfg.RequestConfirmations,
			CallbackGasLimit:            r.cfg.CallbackGasLimit,
			NumWords:                    r.cfg.NumWords,
			Consumer:                    r,
		})
		if err != nil {
			return fmt.Errorf("request random words: %w", err)
		}

		now := r.now()
		if err := NewRequestLedger(tx).RecordRequest(requestID, round.Number, now); err != nil {
			return err
		}
		ev = model.NewRequestedRandomness(round.Number, requestID, now)
		return nil
	})
	r.mu.Unlock()
	if err != nil {
		if requestID != nil {
			// The coordinator holds a request the store never recorded; its
			// fulfillment will be rejected as unknown.
			log.Printf("[WARN] request %s issued but not recorded: %v", requestID, err)
		}
		return nil, err
	}
	r.publish(ev)
	return requestID, nil
}

// FulfillRandomWords settles the round for requestID. The winner is
// players[words[0] mod len(players)]; the modulo is kept as is even though it
// biases towards low indices for player counts that do not divide 2^256.
func (r *Raffle) FulfillRandomWords(ctx context.Context, requestID *big.Int, words []*big.Int) error {
	var ev *model.Event
	r.mu.Lock()
	err := r.store.Update(ctx, func(tx store.Tx) error {
		pending, err := NewRequestLedger(tx).Consume(requestID)
		if err != nil {
			return err
		}
		unknown := func(reason string) error {
			id := "<nil>"
			if requestID != nil {
				id = requestID.String()
			}
			return newError(ErrUnknownRequest, map[string]string{"request_id": id, "reason": reason}, nil)
		}
		if pending == nil {
			return unknown("not outstanding")
		}

		round, err := tx.Round()
		if err != nil {
			return err
		}
		if round.State != model.StateCalculating || pending.Round != round.Number {
			return unknown("issued by another round")
		}
		if len(words) == 0 || words[0] == nil {
			return unknown("no random words")
		}
		if len(round.Players) == 0 {
			return unknown("round has no players")
		}

		idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(round.Players))))
		winner := round.Players[idx.Int64()]
		prize := new(big.Int).Set(round.Pot)

		if err := tx.Credit(winner, prize); err != nil {
			return newError(ErrPayoutTransferFailed, map[string]string{
				"winner": winner.Hex(),
				"amount": prize.String(),
			}, err)
		}

		now := r.now()
		round.Players = nil
		round.Pot = new(big.Int)
		round.LastSettledAt = now
		round.State = model.StateOpen
		round.RecentWinner = winner
		round.Number++
		if err := tx.PutRound(round); err != nil {
			return err
		}
		ev = model.NewWinnerPicked(pending.Round, requestID, winner, prize, now)
		return nil
	})
	r.mu.Unlock()
	if err != nil {
		return err
	}
	log.Printf("[INFO] round %d settled: winner %s", ev.Round, ev.Winner.Hex())
	r.publish(ev)
	return nil
}

// Status returns every read accessor in one consistent snapshot.
func (r *Raffle) Status(ctx context.Context) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s *Status
	err := r.store.View(ctx, func(tx store.Tx) error {
		round, err := tx.Round()
		if err != nil {
			return err
		}
		pending, err := NewRequestLedger(tx).Pending()
		if err != nil {
			return err
		}
		s = &Status{
			Round:         round.Number,
			State:         round.State,
			Players:       round.Players,
			Pot:           round.Pot,
			LastSettledAt: round.LastSettledAt,
			RecentWinner:  round.RecentWinner,
			Pending:       pending,
			EntranceFee:   r.EntranceFee(),
			Interval:      r.cfg.Interval,
			UpkeepNeeded:  r.upkeepNeeded(round),
		}
		return nil
	})
	return s, err
}

// EntranceFee returns the minimum value accepted by Enter.
func (r *Raffle) EntranceFee() *big.Int { return new(big.Int).Set(r.cfg.EntranceFee) }

// Interval returns the minimum time between settlements.
func (r *Raffle) Interval() time.Duration { return r.cfg.Interval }

// State returns whether the round is open or waiting for randomness.
func (r *Raffle) State(ctx context.Context) (model.RaffleState, error) {
	s, err := r.Status(ctx)
	if err != nil {
		return 0, err
	}
	return s.State, nil
}

// NumberOfPlayers returns the entry count of the current round. A player who
// entered twice counts twice.
func (r *Raffle) NumberOfPlayers(ctx context.Context) (int, error) {
	s, err := r.Status(ctx)
	if err != nil {
		return 0, err
	}
	return len(s.Players), nil
}

// Player returns the player holding entry slot i of the current round.
func (r *Raffle) Player(ctx context.Context, i int) (common.Address, error) {
	s, err := r.Status(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if i < 0 || i >= len(s.Players) {
		return common.Address{}, fmt.Errorf("raffle: player index %d out of range [0,%d)", i, len(s.Players))
	}
	return s.Players[i], nil
}

// LastSettledAt returns when the previous round settled, or when the raffle
// was created.
func (r *Raffle) LastSettledAt(ctx context.Context) (time.Time, error) {
	s, err := r.Status(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.LastSettledAt, nil
}

// RecentWinner returns the winner of the previous round, or the zero address.
func (r *Raffle) RecentWinner(ctx context.Context) (common.Address, error) {
	s, err := r.Status(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return s.RecentWinner, nil
}

// Balance returns the winnings credited to addr.
func (r *Raffle) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal *big.Int
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = tx.Balance(addr)
		return err
	})
	return bal, err
}

func (r *Raffle) publish(ev *model.Event) {
	for _, s := range r.sinks {
		s.Publish(ev)
	}
}
