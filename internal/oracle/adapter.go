// Package oracle is the request/fulfill boundary with an external verifiable randomness service.
//
// A request is correlated to one bet. The service answers at some later time with a raw 256-bit
// word; the adapter reduces it modulo 512 and hands the index to the bet engine as the oracle
// account. Nothing waits on a request: a service that never answers leaves the bet where it is.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"flipcoin/internal/fairness"
)

var (
	// ErrDuplicateFulfillment is returned for unknown or already fulfilled requests.
	ErrDuplicateFulfillment = errors.New("duplicate fulfillment")
	ErrNoSink               = errors.New("oracle adapter has no sink attached")
)

// Coordinator forwards a request to the randomness service. It must not call back into the
// adapter before returning.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, requestID uint64) error
}

// Sink receives fulfilled indices. The bet engine implements it.
type Sink interface {
	FulfillRandomness(ctx context.Context, caller common.Address, betID uint64, index int) error
}

// Observer receives request-to-fulfillment latency.
type Observer interface {
	ObserveOracleLatency(d time.Duration)
}

type request struct {
	betID     uint64
	issuedAt  time.Time
	fulfilled bool
}

// Adapter correlates randomness requests with bets.
type Adapter struct {
	address  common.Address
	coord    Coordinator
	log      *zap.Logger
	observer Observer

	mu       sync.Mutex
	sink     Sink
	nextID   uint64
	byBet    map[uint64]uint64
	requests map[uint64]*request
}

// NewAdapter returns an adapter that fulfills as address.
func NewAdapter(address common.Address, coord Coordinator, log *zap.Logger) *Adapter {
	return &Adapter{
		address:  address,
		coord:    coord,
		log:      log.Named("oracle"),
		nextID:   1,
		byBet:    make(map[uint64]uint64),
		requests: make(map[uint64]*request),
	}
}

// Attach sets the sink fulfilled indices are delivered to.
func (a *Adapter) Attach(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// SetObserver sets the latency observer.
func (a *Adapter) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// Address is the account the adapter fulfills as.
func (a *Adapter) Address() common.Address {
	return a.address
}

// RequestRandomness issues a request for betID. A second call for the same bet returns the
// existing request id without contacting the service again.
func (a *Adapter) RequestRandomness(ctx context.Context, betID uint64) (uint64, error) {
	a.mu.Lock()
	if id, ok := a.byBet[betID]; ok {
		a.mu.Unlock()
		return id, nil
	}
	id := a.nextID
	a.nextID++
	a.requests[id] = &request{betID: betID, issuedAt: time.Now()}
	a.byBet[betID] = id
	a.mu.Unlock()

	if err := a.coord.RequestRandomWords(ctx, id); err != nil {
		a.mu.Lock()
		delete(a.requests, id)
		delete(a.byBet, betID)
		a.mu.Unlock()
		return 0, fmt.Errorf("request randomness for bet %d: %w", betID, err)
	}
	a.log.Info("randomness requested", zap.Uint64("bet_id", betID), zap.Uint64("request_id", id))
	return id, nil
}

// CancelRandomness forgets the request for betID. A late answer to it is rejected and the next
// RequestRandomness for the bet contacts the service again.
func (a *Adapter) CancelRandomness(betID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byBet[betID]
	if !ok {
		return
	}
	delete(a.byBet, betID)
	delete(a.requests, id)
	a.log.Info("randomness request cancelled", zap.Uint64("bet_id", betID), zap.Uint64("request_id", id))
}

// Fulfill maps word to an index and delivers it for the bet behind requestID. If delivery fails the
// request stays open and may be fulfilled again.
func (a *Adapter) Fulfill(ctx context.Context, requestID uint64, word *uint256.Int) error {
	if word == nil {
		return errors.New("random word is nil")
	}
	a.mu.Lock()
	req, ok := a.requests[requestID]
	if !ok || req.fulfilled {
		a.mu.Unlock()
		return fmt.Errorf("%w: request %d", ErrDuplicateFulfillment, requestID)
	}
	sink := a.sink
	if sink == nil {
		a.mu.Unlock()
		return ErrNoSink
	}
	req.fulfilled = true
	observer := a.observer
	a.mu.Unlock()

	index := IndexFromWord(word)
	if err := sink.FulfillRandomness(ctx, a.address, req.betID, index); err != nil {
		a.mu.Lock()
		req.fulfilled = false
		a.mu.Unlock()
		return fmt.Errorf("fulfill request %d: %w", requestID, err)
	}
	if observer != nil {
		observer.ObserveOracleLatency(time.Since(req.issuedAt))
	}
	a.log.Info("randomness fulfilled",
		zap.Uint64("bet_id", req.betID),
		zap.Uint64("request_id", requestID),
		zap.Int("random_index", index),
	)
	return nil
}

// Pending returns the number of open requests.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.requests {
		if !r.fulfilled {
			n++
		}
	}
	return n
}

// IndexFromWord reduces a raw random word into [0, 511].
func IndexFromWord(word *uint256.Int) int {
	return int(new(uint256.Int).Mod(word, uint256.NewInt(fairness.IndexSpace)).Uint64())
}
