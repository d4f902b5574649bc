// Package vrf defines the randomness coordinator the raffle depends on and a
// local mock of it for development networks.
//
// A request returns immediately with an id. The coordinator delivers the
// random words later by calling the consumer; nothing links the two calls
// except that id.
package vrf

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxNumWords is the largest number of words a single request may ask for.
const MaxNumWords = 500

// Request describes a randomness request.
type Request struct {
	KeyHash                     common.Hash // gas lane
	SubscriptionID              uint64
	MinimumRequestConfirmations uint16
	CallbackGasLimit            uint32
	NumWords                    uint32
	Consumer                    Consumer
}

// Coordinator issues randomness requests.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req Request) (*big.Int, error)
}

// Consumer receives random words for a request it issued.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID *big.Int, words []*big.Int) error
}
