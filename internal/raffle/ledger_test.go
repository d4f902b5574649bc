package raffle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"RaffleKeeper/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLedger(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		l := NewRequestLedger(tx)
		if err := l.RecordRequest(big.NewInt(5), 1, at); err != nil {
			return err
		}
		err := l.RecordRequest(big.NewInt(6), 1, at)
		assert.ErrorIs(t, err, ErrRequestOutstanding)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		l := NewRequestLedger(tx)

		got, err := l.Consume(big.NewInt(6))
		require.NoError(t, err)
		assert.Nil(t, got, "mismatched id")

		got, err = l.Consume(nil)
		require.NoError(t, err)
		assert.Nil(t, got)

		p, err := l.Pending()
		require.NoError(t, err)
		require.NotNil(t, p, "a failed consume leaves the entry")

		got, err = l.Consume(big.NewInt(5))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, uint64(1), got.Round)
		assert.True(t, got.RequestedAt.Equal(at))

		got, err = l.Consume(big.NewInt(5))
		require.NoError(t, err)
		assert.Nil(t, got, "consumed at most once")
		return nil
	}))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := newError(ErrRoundNotOpen, map[string]string{"state": "CALCULATING"}, nil)
	assert.ErrorIs(t, err, ErrRoundNotOpen)
	assert.NotErrorIs(t, err, ErrUpkeepNotNeeded)
	assert.Equal(t, "raffle: round not open", err.Error())

	wrapped := newError(ErrPayoutTransferFailed, nil, store.ErrPaymentRejected)
	assert.Equal(t, "raffle: payout transfer failed: store: account rejects payments", wrapped.Error())
}
