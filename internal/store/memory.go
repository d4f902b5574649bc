package store

import (
	"context"
	"math/big"
	"sync"
	"time"

	"RaffleKeeper/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

type state struct {
	Round     *model.Round                `json:"round,omitempty"`
	Pending   *model.PendingRequest       `json:"pending,omitempty"`
	Balances  map[common.Address]*big.Int `json:"balances"`
	Rejecting map[common.Address]bool     `json:"rejecting,omitempty"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func newState() *state {
	return &state{
		Balances:  make(map[common.Address]*big.Int),
		Rejecting: make(map[common.Address]bool),
	}
}

func (s *state) clone() *state {
	c := newState()
	if s.Round != nil {
		c.Round = s.Round.Clone()
	}
	c.Pending = s.Pending.Clone()
	for addr, bal := range s.Balances {
		c.Balances[addr] = new(big.Int).Set(bal)
	}
	for addr, v := range s.Rejecting {
		c.Rejecting[addr] = v
	}
	c.UpdatedAt = s.UpdatedAt
	return c
}

// MemoryStore keeps the raffle in memory, optionally mirrored to a JSON file.
type MemoryStore struct {
	mu       sync.Mutex
	state    *state
	filePath string
}

// NewMemoryStore creates an empty, non-persistent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newState()}
}

// NewFileStore creates a MemoryStore backed by a JSON state file. Each Update
// reloads the file under an exclusive lock and rewrites it on success, so
// several processes may share one file.
func NewFileStore(filePath string) (*MemoryStore, error) {
	st, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{state: st, filePath: filePath}, nil
}

func (m *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.filePath == "" {
		next := m.state.clone()
		if err := fn(&memTx{st: next}); err != nil {
			return err
		}
		m.state = next
		return nil
	}

	unlock, err := lockState(m.filePath, true)
	if err != nil {
		return err
	}
	defer unlock()

	next, err := LoadState(m.filePath)
	if err != nil {
		return err
	}
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	if err := SaveState(m.filePath, next); err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.filePath != "" {
		unlock, err := lockState(m.filePath, false)
		if err != nil {
			return err
		}
		defer unlock()

		st, err := LoadState(m.filePath)
		if err != nil {
			return err
		}
		m.state = st
	}
	return fn(&memTx{st: m.state, readOnly: true})
}

func (m *MemoryStore) SetRejectsPayments(ctx context.Context, addr common.Address, rejects bool) error {
	return m.Update(ctx, func(tx Tx) error {
		t := tx.(*memTx)
		if rejects {
			t.st.Rejecting[addr] = true
		} else {
			delete(t.st.Rejecting, addr)
		}
		return nil
	})
}

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	st       *state
	readOnly bool
}

func (t *memTx) Round() (*model.Round, error) {
	if t.st.Round == nil {
		return nil, ErrNoRound
	}
	return t.st.Round.Clone(), nil
}

func (t *memTx) PutRound(r *model.Round) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.st.Round = r.Clone()
	return nil
}

func (t *memTx) Pending() (*model.PendingRequest, error) {
	return t.st.Pending.Clone(), nil
}

func (t *memTx) PutPending(p *model.PendingRequest) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.st.Pending = p.Clone()
	return nil
}

func (t *memTx) Credit(to common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.st.Rejecting[to] {
		return ErrPaymentRejected
	}
	bal, ok := t.st.Balances[to]
	if !ok {
		bal = new(big.Int)
	}
	t.st.Balances[to] = new(big.Int).Add(bal, amount)
	return nil
}

func (t *memTx) Balance(addr common.Address) (*big.Int, error) {
	if bal, ok := t.st.Balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}
