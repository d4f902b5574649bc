package vrf

import (
	"context"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	ErrInvalidSubscription = errors.New("vrf: invalid subscription")
	ErrInvalidConsumer     = errors.New("vrf: invalid consumer")
	ErrNumWordsTooBig      = errors.New("vrf: numWords too big")
	ErrNonexistentRequest  = errors.New("vrf: nonexistent request")
	ErrInsufficientBalance = errors.New("vrf: insufficient balance")
)

// Subscription is a funded account that pays for fulfillments.
type Subscription struct {
	ID        uint64
	Balance   *big.Int
	Consumers []Consumer
}

// Fulfillment reports the outcome of delivering words to a consumer.
type Fulfillment struct {
	RequestID *big.Int
	Payment   *big.Int
	Success   bool
	Err       error // consumer error when Success is false
}

type mockRequest struct {
	id          *big.Int
	subID       uint64
	gasLimit    uint32
	numWords    uint32
	confs       uint16
	consumer    Consumer
	requestedAt time.Time
}

// MockCoordinator is an in-process coordinator. Words are derived
// deterministically from the request id, so it offers no unpredictability and
// must only back development networks.
type MockCoordinator struct {
	mu           sync.Mutex
	baseFee      *big.Int
	gasPriceLink *big.Int
	blockTime    time.Duration
	now          func() time.Time

	nextSubID     uint64
	nextRequestID *big.Int
	subs          map[uint64]*Subscription
	requests      map[string]*mockRequest
}

// NewMockCoordinator creates a mock charging baseFee plus gasPriceLink per unit
// of callback gas. A request becomes eligible for FulfillPending once
// confirmations*blockTime has passed.
func NewMockCoordinator(baseFee, gasPriceLink *big.Int, blockTime time.Duration) *MockCoordinator {
	return &MockCoordinator{
		baseFee:       new(big.Int).Set(baseFee),
		gasPriceLink:  new(big.Int).Set(gasPriceLink),
		blockTime:     blockTime,
		now:           time.Now,
		nextSubID:     1,
		nextRequestID: big.NewInt(1),
		subs:          make(map[uint64]*Subscription),
		requests:      make(map[string]*mockRequest),
	}
}

// SetClock replaces the time source used for confirmation delays.
func (m *MockCoordinator) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockCoordinator) CreateSubscription() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = &Subscription{ID: id, Balance: new(big.Int)}
	log.Printf("[INFO] vrf mock: subscription %d created", id)
	return id
}

func (m *MockCoordinator) FundSubscription(subID uint64, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return errors.Wrapf(ErrInvalidSubscription, "fund %d", subID)
	}
	sub.Balance.Add(sub.Balance, amount)
	return nil
}

func (m *MockCoordinator) AddConsumer(subID uint64, c Consumer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return errors.Wrapf(ErrInvalidSubscription, "add consumer to %d", subID)
	}
	for _, existing := range sub.Consumers {
		if existing == c {
			return nil
		}
	}
	sub.Consumers = append(sub.Consumers, c)
	return nil
}

// GetSubscription returns a copy of the subscription.
func (m *MockCoordinator) GetSubscription(subID uint64) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return Subscription{}, errors.Wrapf(ErrInvalidSubscription, "get %d", subID)
	}
	return Subscription{
		ID:        sub.ID,
		Balance:   new(big.Int).Set(sub.Balance),
		Consumers: append([]Consumer(nil), sub.Consumers...),
	}, nil
}

func (m *MockCoordinator) RequestRandomWords(_ context.Context, req Request) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[req.SubscriptionID]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidSubscription, "request on %d", req.SubscriptionID)
	}
	if !sub.hasConsumer(req.Consumer) {
		return nil, errors.Wrapf(ErrInvalidConsumer, "subscription %d", req.SubscriptionID)
	}
	if req.NumWords > MaxNumWords {
		return nil, errors.Wrapf(ErrNumWordsTooBig, "%d > %d", req.NumWords, MaxNumWords)
	}

	id := new(big.Int).Set(m.nextRequestID)
	m.nextRequestID.Add(m.nextRequestID, big.NewInt(1))
	m.requests[id.String()] = &mockRequest{
		id:          id,
		subID:       req.SubscriptionID,
		gasLimit:    req.CallbackGasLimit,
		numWords:    req.NumWords,
		confs:       req.MinimumRequestConfirmations,
		consumer:    req.Consumer,
		requestedAt: m.now(),
	}
	log.Printf("[INFO] vrf mock: random words requested id=%s sub=%d words=%d", id, req.SubscriptionID, req.NumWords)
	return new(big.Int).Set(id), nil
}

// FulfillRandomWords delivers words derived from the request id to consumer.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, requestID *big.Int, consumer Consumer) (*Fulfillment, error) {
	return m.FulfillRandomWordsWithOverride(ctx, requestID, consumer, nil)
}

// FulfillRandomWordsWithOverride delivers words to consumer. A nil words slice
// means derive them from the request id.
//
// The request is removed before the consumer runs, so a failing consumer is
// reported through Fulfillment.Success and the same request cannot be
// fulfilled again.
func (m *MockCoordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID *big.Int, consumer Consumer, words []*big.Int) (*Fulfillment, error) {
	m.mu.Lock()
	req, ok := m.requests[requestID.String()]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrNonexistentRequest, "request %s", requestID)
	}
	if words == nil {
		words = DeriveWords(requestID, req.numWords)
	} else if len(words) != int(req.numWords) {
		m.mu.Unlock()
		return nil, errors.Errorf("vrf: got %d words, request wants %d", len(words), req.numWords)
	}
	payment := new(big.Int).Mul(m.gasPriceLink, new(big.Int).SetUint64(uint64(req.gasLimit)))
	payment.Add(payment, m.baseFee)
	sub := m.subs[req.subID]
	if sub == nil || sub.Balance.Cmp(payment) < 0 {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrInsufficientBalance, "subscription %d needs %s", req.subID, payment)
	}
	delete(m.requests, requestID.String())
	m.mu.Unlock()

	// The consumer may call back into the coordinator, so no lock is held here.
	err := consumer.FulfillRandomWords(ctx, new(big.Int).Set(requestID), words)

	m.mu.Lock()
	sub.Balance.Sub(sub.Balance, payment)
	m.mu.Unlock()

	f := &Fulfillment{RequestID: new(big.Int).Set(requestID), Payment: payment, Success: err == nil, Err: err}
	if err != nil {
		log.Printf("[WARN] vrf mock: consumer rejected request %s: %v", requestID, err)
	} else {
		log.Printf("[INFO] vrf mock: request %s fulfilled, payment %s", requestID, payment)
	}
	return f, nil
}

// FulfillPending fulfills, in request order, every request whose confirmation
// delay has elapsed.
func (m *MockCoordinator) FulfillPending(ctx context.Context) ([]*Fulfillment, error) {
	m.mu.Lock()
	now := m.now()
	var due []*mockRequest
	for _, req := range m.requests {
		wait := time.Duration(req.confs) * m.blockTime
		if now.Sub(req.requestedAt) >= wait {
			due = append(due, req)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id.Cmp(due[j].id) < 0 })

	var out []*Fulfillment
	for _, req := range due {
		f, err := m.FulfillRandomWords(ctx, req.id, req.consumer)
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

// PendingRequests returns the number of unfulfilled requests.
func (m *MockCoordinator) PendingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// DeriveWords computes word i as keccak256(abi.encode(requestID, i)).
func DeriveWords(requestID *big.Int, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := range words {
		enc := append(
			common.LeftPadBytes(requestID.Bytes(), 32),
			common.LeftPadBytes(big.NewInt(int64(i)).Bytes(), 32)...,
		)
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(enc))
	}
	return words
}

func (s *Subscription) hasConsumer(c Consumer) bool {
	if c == nil {
		return false
	}
	for _, existing := range s.Consumers {
		if existing == c {
			return true
		}
	}
	return false
}
