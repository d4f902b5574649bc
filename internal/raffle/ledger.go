package raffle

import (
	"math/big"
	"time"

	"RaffleKeeper/internal/model"
)

// PendingStore is the part of a store transaction the ledger needs.
type PendingStore interface {
	Pending() (*model.PendingRequest, error)
	PutPending(p *model.PendingRequest) error
}

// RequestLedger tracks the single outstanding randomness request and the
// round that issued it. It works inside a store transaction, so its changes
// commit or roll back with the rest of the operation.
type RequestLedger struct {
	st PendingStore
}

func NewRequestLedger(st PendingStore) *RequestLedger {
	return &RequestLedger{st: st}
}

// RecordRequest stores id as the outstanding request of round.
func (l *RequestLedger) RecordRequest(id *big.Int, round uint64, at time.Time) error {
	cur, err := l.st.Pending()
	if err != nil {
		return err
	}
	if cur != nil {
		return newError(ErrRequestOutstanding, map[string]string{
			"request_id": cur.RequestID.String(),
		}, nil)
	}
	return l.st.PutPending(&model.PendingRequest{
		RequestID:   new(big.Int).Set(id),
		Round:       round,
		RequestedAt: at,
	})
}

// Consume clears the outstanding request and returns it if id matches.
// Otherwise it returns nil and changes nothing.
func (l *RequestLedger) Consume(id *big.Int) (*model.PendingRequest, error) {
	cur, err := l.st.Pending()
	if err != nil {
		return nil, err
	}
	if cur == nil || id == nil || cur.RequestID.Cmp(id) != 0 {
		return nil, nil
	}
	if err := l.st.PutPending(nil); err != nil {
		return nil, err
	}
	return cur, nil
}

// Pending returns the outstanding request, or nil.
func (l *RequestLedger) Pending() (*model.PendingRequest, error) {
	return l.st.Pending()
}
