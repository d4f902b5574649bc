package raffle

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"RaffleKeeper/internal/model"
	"RaffleKeeper/internal/store"
	"RaffleKeeper/internal/vrf"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	playerA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	playerB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	playerC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

const testInterval = 30 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	raffle *Raffle
	store  store.Store
	mock   *vrf.MockCoordinator
	clock  *fakeClock
	events []*model.Event
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	f := &fixture{store: st, clock: &fakeClock{now: time.Unix(1700000000, 0)}}
	f.mock = vrf.NewMockCoordinator(big.NewInt(250000000000000000), big.NewInt(1000000000), time.Second)
	f.mock.SetClock(f.clock.Now)
	sub := f.mock.CreateSubscription()
	require.NoError(t, f.mock.FundSubscription(sub, new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))))

	var mu sync.Mutex
	r, err := New(context.Background(), Config{
		EntranceFee:          big.NewInt(100),
		Interval:             testInterval,
		SubscriptionID:       sub,
		RequestConfirmations: 3,
		CallbackGasLimit:     500000,
		NumWords:             1,
	}, st, f.mock,
		WithClock(f.clock.Now),
		WithSink(SinkFunc(func(ev *model.Event) {
			mu.Lock()
			defer mu.Unlock()
			f.events = append(f.events, ev)
		})),
	)
	require.NoError(t, err)
	require.NoError(t, f.mock.AddConsumer(sub, r))
	f.raffle = r
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, store.NewMemoryStore())
}

// openRound enters players at the fee and moves the clock past the interval.
func (f *fixture) openRound(t *testing.T, players ...common.Address) {
	t.Helper()
	for _, p := range players {
		require.NoError(t, f.raffle.Enter(context.Background(), p, big.NewInt(100)))
	}
	f.clock.Advance(testInterval + time.Second)
}

func (f *fixture) status(t *testing.T) *Status {
	t.Helper()
	s, err := f.raffle.Status(context.Background())
	require.NoError(t, err)
	return s
}

func TestNew_InitializesOpenRound(t *testing.T) {
	f := newMemoryFixture(t)
	s := f.status(t)

	assert.Equal(t, model.StateOpen, s.State)
	assert.Equal(t, uint64(1), s.Round)
	assert.Empty(t, s.Players)
	assert.Zero(t, s.Pot.Sign())
	assert.True(t, s.LastSettledAt.Equal(f.clock.Now()))
	assert.Equal(t, common.Address{}, s.RecentWinner)
	assert.Nil(t, s.Pending)
	assert.Equal(t, "100", f.raffle.EntranceFee().String())
	assert.Equal(t, testInterval, f.raffle.Interval())

	state, err := f.raffle.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, state)
	last, err := f.raffle.LastSettledAt(context.Background())
	require.NoError(t, err)
	assert.True(t, last.Equal(f.clock.Now()))
}

func TestEnter_RecordsPlayersAndPot(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	values := []int64{100, 150, 100, 1000}
	players := []common.Address{playerA, playerB, playerA, playerC}
	for i := range players {
		require.NoError(t, f.raffle.Enter(ctx, players[i], big.NewInt(values[i])))
	}

	n, err := f.raffle.NumberOfPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	first, err := f.raffle.Player(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, playerA, first)
	third, err := f.raffle.Player(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, playerA, third, "duplicate entries keep separate slots")

	_, err = f.raffle.Player(ctx, 4)
	assert.Error(t, err)

	assert.Equal(t, "1350", f.status(t).Pot.String())

	require.Len(t, f.events, 4)
	last := f.events[3]
	assert.Equal(t, model.EventEntryRecorded, last.Kind)
	assert.Equal(t, playerC, last.Player)
	assert.Equal(t, 4, last.Players)
	assert.Equal(t, "1350", last.Pot.String())
}

func TestEnter_InsufficientPayment(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	for _, v := range []*big.Int{nil, big.NewInt(0), big.NewInt(99)} {
		err := f.raffle.Enter(ctx, playerA, v)
		assert.ErrorIs(t, err, ErrInsufficientPayment)
	}

	var rerr *Error
	err := f.raffle.Enter(ctx, playerA, big.NewInt(1))
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, CodeInsufficientPayment, rerr.Code)
	assert.Equal(t, "100", rerr.Metadata["entrance_fee"])

	s := f.status(t)
	assert.Empty(t, s.Players)
	assert.Zero(t, s.Pot.Sign())
	assert.Empty(t, f.events)
}

func TestEnter_RejectedWhileCalculating(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA)

	_, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	err = f.raffle.Enter(ctx, playerB, big.NewInt(100))
	assert.ErrorIs(t, err, ErrRoundNotOpen)

	// An underpaid entry reports the payment problem first and still changes nothing.
	err = f.raffle.Enter(ctx, playerB, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientPayment)

	s := f.status(t)
	assert.Equal(t, []common.Address{playerA}, s.Players)
	assert.Equal(t, "100", s.Pot.String())
}

func TestCheckUpkeep(t *testing.T) {
	t.Run("false without players even after the interval", func(t *testing.T) {
		f := newMemoryFixture(t)
		f.clock.Advance(testInterval * 10)
		needed, err := f.raffle.CheckUpkeep(context.Background())
		require.NoError(t, err)
		assert.False(t, needed)
	})

	t.Run("false before the interval", func(t *testing.T) {
		f := newMemoryFixture(t)
		require.NoError(t, f.raffle.Enter(context.Background(), playerA, big.NewInt(100)))
		f.clock.Advance(testInterval - time.Second)
		needed, err := f.raffle.CheckUpkeep(context.Background())
		require.NoError(t, err)
		assert.False(t, needed)
	})

	t.Run("true exactly at the interval", func(t *testing.T) {
		f := newMemoryFixture(t)
		require.NoError(t, f.raffle.Enter(context.Background(), playerA, big.NewInt(100)))
		f.clock.Advance(testInterval)
		needed, err := f.raffle.CheckUpkeep(context.Background())
		require.NoError(t, err)
		assert.True(t, needed)
	})

	t.Run("false while calculating", func(t *testing.T) {
		f := newMemoryFixture(t)
		f.openRound(t, playerA)
		_, err := f.raffle.PerformUpkeep(context.Background(), nil)
		require.NoError(t, err)
		needed, err := f.raffle.CheckUpkeep(context.Background())
		require.NoError(t, err)
		assert.False(t, needed)
		assert.Equal(t, model.StateCalculating, f.status(t).State)
	})

	t.Run("polling does not mutate", func(t *testing.T) {
		f := newMemoryFixture(t)
		f.openRound(t, playerA)
		before := f.status(t)
		for i := 0; i < 5; i++ {
			needed, err := f.raffle.CheckUpkeep(context.Background())
			require.NoError(t, err)
			assert.True(t, needed)
		}
		assert.Equal(t, before, f.status(t))
	})
}

func TestPerformUpkeep_NotNeeded(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.raffle.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, ErrUpkeepNotNeeded)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "0", rerr.Metadata["pot"])
	assert.Equal(t, "0", rerr.Metadata["players"])
	assert.Equal(t, "OPEN", rerr.Metadata["state"])

	s := f.status(t)
	assert.Equal(t, model.StateOpen, s.State)
	assert.Nil(t, s.Pending)
	assert.Zero(t, f.mock.PendingRequests())
}

func TestPerformUpkeep_IssuesSingleRequest(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA)

	id, err := f.raffle.PerformUpkeep(ctx, []byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, 1, id.Sign())

	s := f.status(t)
	assert.Equal(t, model.StateCalculating, s.State)
	require.NotNil(t, s.Pending)
	assert.Equal(t, id.String(), s.Pending.RequestID.String())
	assert.Equal(t, s.Round, s.Pending.Round)

	ev := f.events[len(f.events)-1]
	assert.Equal(t, model.EventRequestedRandomness, ev.Kind)
	assert.Equal(t, id.String(), ev.RequestID.String())

	_, err = f.raffle.PerformUpkeep(ctx, nil)
	assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
	assert.Equal(t, 1, f.mock.PendingRequests())
}

type failingCoordinator struct{}

func (failingCoordinator) RequestRandomWords(context.Context, vrf.Request) (*big.Int, error) {
	return nil, errors.New("coordinator unavailable")
}

func TestPerformUpkeep_CoordinatorFailureLeavesRoundOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	r, err := New(context.Background(), Config{EntranceFee: big.NewInt(100), Interval: testInterval},
		store.NewMemoryStore(), failingCoordinator{}, WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, r.Enter(context.Background(), playerA, big.NewInt(100)))
	clock.Advance(time.Hour)

	_, err = r.PerformUpkeep(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpkeepNotNeeded)

	s, err := r.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, s.State)
	assert.Nil(t, s.Pending)
	assert.True(t, s.UpkeepNeeded)
}

func TestPerformUpkeep_WithoutCoordinator(t *testing.T) {
	r, err := New(context.Background(), Config{EntranceFee: big.NewInt(1)}, store.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, err = r.PerformUpkeep(context.Background(), nil)
	assert.Error(t, err)
}

func TestFulfill_ScenarioThreePlayers(t *testing.T) {
	for name, st := range map[string]func(t *testing.T) store.Store{
		"memory": func(*testing.T) store.Store { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "raffle.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, st(t))
			ctx := context.Background()
			f.openRound(t, playerA, playerB, playerC)
			started := f.status(t).LastSettledAt

			id, err := f.raffle.PerformUpkeep(ctx, nil)
			require.NoError(t, err)

			_, err = f.mock.FulfillRandomWordsWithOverride(ctx, id, f.raffle, []*big.Int{big.NewInt(7)})
			require.NoError(t, err)

			s := f.status(t)
			assert.Equal(t, playerB, s.RecentWinner, "7 mod 3 = 1")
			assert.Equal(t, model.StateOpen, s.State)
			assert.Empty(t, s.Players)
			assert.Zero(t, s.Pot.Sign())
			assert.Nil(t, s.Pending)
			assert.Equal(t, uint64(2), s.Round)
			assert.True(t, s.LastSettledAt.After(started))

			bal, err := f.raffle.Balance(ctx, playerB)
			require.NoError(t, err)
			assert.Equal(t, "300", bal.String())
			for _, loser := range []common.Address{playerA, playerC} {
				bal, err := f.raffle.Balance(ctx, loser)
				require.NoError(t, err)
				assert.Zero(t, bal.Sign())
			}

			ev := f.events[len(f.events)-1]
			assert.Equal(t, model.EventWinnerPicked, ev.Kind)
			assert.Equal(t, playerB, ev.Winner)
			assert.Equal(t, "300", ev.Amount.String())
			assert.Equal(t, uint64(1), ev.Round)
		})
	}
}

func TestFulfill_WinnerIndexIsWordModPlayers(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	cases := []struct {
		word   *big.Int
		winner common.Address
	}{
		{big.NewInt(0), playerA},
		{big.NewInt(4), playerB},
		{big.NewInt(5), playerC},
		{huge, playerA}, // (2^256-1) mod 3 = 0
	}
	for _, tc := range cases {
		f := newMemoryFixture(t)
		f.openRound(t, playerA, playerB, playerC)
		id, err := f.raffle.PerformUpkeep(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, f.raffle.FulfillRandomWords(context.Background(), id, []*big.Int{tc.word}))
		winner, err := f.raffle.RecentWinner(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.winner, winner, "word %s", tc.word)
	}
}

func TestFulfill_UnknownRequestChangesNothing(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA, playerB)

	// Nothing outstanding yet.
	err := f.raffle.FulfillRandomWords(ctx, big.NewInt(1), []*big.Int{big.NewInt(0)})
	assert.ErrorIs(t, err, ErrUnknownRequest)

	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	before := f.status(t)

	wrong := new(big.Int).Add(id, big.NewInt(1))
	err = f.raffle.FulfillRandomWords(ctx, wrong, []*big.Int{big.NewInt(0)})
	assert.ErrorIs(t, err, ErrUnknownRequest)
	err = f.raffle.FulfillRandomWords(ctx, nil, []*big.Int{big.NewInt(0)})
	assert.ErrorIs(t, err, ErrUnknownRequest)
	err = f.raffle.FulfillRandomWords(ctx, id, nil)
	assert.ErrorIs(t, err, ErrUnknownRequest, "no words")

	assert.Equal(t, before, f.status(t))
}

func TestFulfill_DoubleFulfillment(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA, playerB)

	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.raffle.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(1)}))

	// A new round fills up before the duplicate callback arrives.
	f.openRound(t, playerC)
	err = f.raffle.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(0)})
	assert.ErrorIs(t, err, ErrUnknownRequest)

	bal, err := f.raffle.Balance(ctx, playerB)
	require.NoError(t, err)
	assert.Equal(t, "200", bal.String())
	s := f.status(t)
	assert.Equal(t, []common.Address{playerC}, s.Players)
	assert.Equal(t, model.StateOpen, s.State)
}

func TestFulfill_PayoutFailureRollsBack(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetRejectsPayments(ctx, playerA, true))
	f.openRound(t, playerA, playerB)

	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	before := f.status(t)
	eventsBefore := len(f.events)

	err = f.raffle.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(0)})
	require.ErrorIs(t, err, ErrPayoutTransferFailed)
	assert.ErrorIs(t, err, store.ErrPaymentRejected)

	after := f.status(t)
	assert.Equal(t, before, after)
	assert.Equal(t, model.StateCalculating, after.State)
	require.NotNil(t, after.Pending, "ledger entry survives the rolled-back settlement")
	assert.Len(t, f.events, eventsBefore)

	// Once the recipient can be paid, the same request settles.
	require.NoError(t, f.store.SetRejectsPayments(ctx, playerA, false))
	require.NoError(t, f.raffle.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(0)}))
	bal, err := f.raffle.Balance(ctx, playerA)
	require.NoError(t, err)
	assert.Equal(t, "200", bal.String())
}

func TestFulfill_ThroughMockCoordinator(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA, playerB, playerC)

	_, err := f.mock.FulfillRandomWords(ctx, big.NewInt(1), f.raffle)
	require.ErrorIs(t, err, vrf.ErrNonexistentRequest)

	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	out, err := f.mock.FulfillPending(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Success)

	word := vrf.DeriveWords(id, 1)[0]
	idx := new(big.Int).Mod(word, big.NewInt(3)).Int64()
	winner, err := f.raffle.RecentWinner(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{playerA, playerB, playerC}[idx], winner)
}

func TestConcurrentUpkeepIssuesOneRequest(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.openRound(t, playerA)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.raffle.PerformUpkeep(ctx, nil)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.mock.PendingRequests())
}

func TestConcurrentEntries(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.raffle.Enter(ctx, playerA, big.NewInt(100)))
		}()
	}
	wg.Wait()

	s := f.status(t)
	assert.Len(t, s.Players, 50)
	assert.Equal(t, "5000", s.Pot.String())
}

func TestEnter_SharedFileStoreKeepsEveryEntry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "raffle.json")
	cfg := Config{EntranceFee: big.NewInt(100), Interval: testInterval, NumWords: 1}

	open := func() *Raffle {
		st, err := store.NewFileStore(path)
		require.NoError(t, err)
		r, err := New(ctx, cfg, st, nil)
		require.NoError(t, err)
		return r
	}
	daemon := open()
	cli := open()

	require.NoError(t, cli.Enter(ctx, playerA, big.NewInt(100)))
	require.NoError(t, daemon.Enter(ctx, playerB, big.NewInt(100)))

	reopened := open()
	s, err := reopened.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{playerA, playerB}, s.Players)
	assert.Equal(t, "200", s.Pot.String())

	n, err := daemon.NumberOfPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

var errCommit = errors.New("database is locked")

// commitFailingStore rolls back every Update once armed, after fn has run.
type commitFailingStore struct {
	store.Store
	armed bool
}

func (s *commitFailingStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.Update(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.armed {
			return errCommit
		}
		return nil
	})
}

func TestPerformUpkeep_CommitFailureOrphansRequest(t *testing.T) {
	st := &commitFailingStore{Store: store.NewMemoryStore()}
	f := newFixture(t, st)
	ctx := context.Background()
	f.openRound(t, playerA, playerB)

	st.armed = true
	reqID, err := f.raffle.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, errCommit)
	assert.Nil(t, reqID)
	assert.Equal(t, 1, f.mock.PendingRequests())

	s := f.status(t)
	assert.Equal(t, model.StateOpen, s.State)
	assert.Nil(t, s.Pending)

	// The orphan is charged for but cannot settle the round.
	st.armed = false
	f.clock.Advance(10 * time.Second)
	fulfilled, err := f.mock.FulfillPending(ctx)
	require.NoError(t, err)
	require.Len(t, fulfilled, 1)
	assert.False(t, fulfilled[0].Success)
	assert.ErrorIs(t, fulfilled[0].Err, ErrUnknownRequest)

	s = f.status(t)
	assert.Equal(t, []common.Address{playerA, playerB}, s.Players)
	assert.Equal(t, uint64(1), s.Round)
	assert.True(t, s.UpkeepNeeded)
}
