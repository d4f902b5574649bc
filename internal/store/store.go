// Package store owns the persisted raffle record: the round, the outstanding
// randomness request and the winnings credited to accounts.
//
// Every raffle operation runs inside a single Update call. A non-nil error from
// the callback discards all of its writes, which is what makes each operation
// all-or-nothing.
package store

import (
	"context"
	"math/big"

	"RaffleKeeper/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// ErrNoRound is returned by Tx.Round before the raffle has been initialized.
	ErrNoRound = errors.New("store: round not initialized")
	// ErrPaymentRejected is returned by Tx.Credit when the recipient refuses funds.
	ErrPaymentRejected = errors.New("store: account rejects payments")
	// ErrReadOnly is returned by writes attempted inside View.
	ErrReadOnly = errors.New("store: read-only transaction")
)

// Tx is a view of the store inside one transaction.
type Tx interface {
	// Round returns a copy of the current round.
	Round() (*model.Round, error)
	PutRound(r *model.Round) error
	// Pending returns the outstanding request, or nil.
	Pending() (*model.PendingRequest, error)
	// PutPending records p as the outstanding request; nil clears it.
	PutPending(p *model.PendingRequest) error
	// Credit adds amount to the balance of to.
	Credit(to common.Address, amount *big.Int) error
	Balance(addr common.Address) (*big.Int, error)
}

// Store is the single-instance raffle store.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	// SetRejectsPayments flags addr as unable to receive payouts.
	SetRejectsPayments(ctx context.Context, addr common.Address, rejects bool) error
	Close() error
}

// Init creates the initial round if the store has none yet.
func Init(ctx context.Context, s Store, round *model.Round) error {
	return s.Update(ctx, func(tx Tx) error {
		_, err := tx.Round()
		if errors.Is(err, ErrNoRound) {
			return tx.PutRound(round)
		}
		return err
	})
}
