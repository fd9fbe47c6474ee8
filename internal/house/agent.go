// Package house runs the house side of a bet: it commits a fresh secret to each bet it is offered
// and settles once the player reveals its preimage over p2p.
package house

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"flipcoin/internal/events"
	"flipcoin/internal/fairness"
	"flipcoin/internal/wager"
	"flipcoin/p2p"
)

var (
	ErrUnknownBet = errors.New("house holds no secret for bet")
	ErrNotReady   = errors.New("bet has no random index yet")
)

// Engine is the part of the wager engine the house drives.
type Engine interface {
	Variant() wager.Variant
	BetInfo(id uint64) (wager.Bet, error)
	HouseCommit(ctx context.Context, caller common.Address, id uint64, commit fairness.Commitment) (wager.Bet, error)
	Settle(ctx context.Context, caller common.Address, id uint64, claim wager.Claim) (wager.Bet, error)
}

// Prover produces fairness proofs. *fairness.Prover implements it.
type Prover interface {
	Prove(player, house fairness.Preimage, bitIndex int) (*fairness.Proof, error)
}

// ProvingObserver receives proof generation latency.
type ProvingObserver interface {
	ObserveProving(d time.Duration)
}

// Agent holds the house's secrets. Secrets live only in memory; a restart forfeits the ability
// to settle bets committed before it.
type Agent struct {
	account  common.Address
	engine   Engine
	prover   Prover
	observer ProvingObserver
	log      *zap.Logger

	mu      sync.Mutex
	secrets map[uint64]fairness.Preimage
}

// NewAgent returns an agent acting as account. prover may be nil for the reveal variant.
func NewAgent(account common.Address, engine Engine, prover Prover, observer ProvingObserver, log *zap.Logger) *Agent {
	return &Agent{
		account:  account,
		engine:   engine,
		prover:   prover,
		observer: observer,
		log:      log.Named("house"),
		secrets:  make(map[uint64]fairness.Preimage),
	}
}

func (a *Agent) Account() common.Address {
	return a.account
}

// Commit draws a secret for bet id and commits to it.
func (a *Agent) Commit(ctx context.Context, id uint64) (wager.Bet, error) {
	secret, err := fairness.NewPreimage()
	if err != nil {
		return wager.Bet{}, err
	}
	a.mu.Lock()
	if _, ok := a.secrets[id]; ok {
		a.mu.Unlock()
		return wager.Bet{}, fmt.Errorf("%w: bet %d", wager.ErrAlreadyCommitted, id)
	}
	a.secrets[id] = secret
	a.mu.Unlock()

	bet, err := a.engine.HouseCommit(ctx, a.account, id, fairness.Commit(secret))
	if err != nil {
		a.mu.Lock()
		delete(a.secrets, id)
		a.mu.Unlock()
		return wager.Bet{}, err
	}
	return bet, nil
}

// Reveal settles bet id with the player's preimage.
func (a *Agent) Reveal(ctx context.Context, id uint64, player fairness.Preimage) (wager.Bet, error) {
	a.mu.Lock()
	secret, ok := a.secrets[id]
	a.mu.Unlock()
	if !ok {
		return wager.Bet{}, fmt.Errorf("%w %d", ErrUnknownBet, id)
	}

	bet, err := a.engine.BetInfo(id)
	if err != nil {
		return wager.Bet{}, err
	}
	if !bet.PlayerCommit.Matches(player) {
		return wager.Bet{}, fmt.Errorf("%w: bet %d", wager.ErrInvalidPreimage, id)
	}
	if bet.RandomIndex == wager.NoIndex {
		return wager.Bet{}, fmt.Errorf("%w: bet %d", ErrNotReady, id)
	}

	claim, err := a.claim(bet, player, secret)
	if err != nil {
		return wager.Bet{}, err
	}
	settled, err := a.engine.Settle(ctx, a.account, id, claim)
	if err != nil {
		return wager.Bet{}, err
	}
	a.mu.Lock()
	delete(a.secrets, id)
	a.mu.Unlock()
	return settled, nil
}

func (a *Agent) claim(bet wager.Bet, player, secret fairness.Preimage) (wager.Claim, error) {
	if a.engine.Variant() == wager.VariantReveal {
		return wager.RevealClaim{Player: player, House: secret}, nil
	}
	if a.prover == nil {
		return nil, errors.New("house has no prover for the proof variant")
	}
	start := time.Now()
	proof, err := a.prover.Prove(player, secret, bet.RandomIndex)
	if err != nil {
		return nil, fmt.Errorf("prove bet %d: %w", bet.ID, err)
	}
	if a.observer != nil {
		a.observer.ObserveProving(time.Since(start))
	}
	a.log.Debug("proof generated", zap.Uint64("bet_id", bet.ID), zap.Duration("took", time.Since(start)))
	return wager.ProofClaim{Proof: proof.Bytes, Signals: proof.Signals}, nil
}

// Pending returns the ids the house still holds secrets for.
func (a *Agent) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.secrets)
}

// HandleReveal is the p2p handler for preimage reveals.
func (a *Agent) HandleReveal(ctx context.Context, msg p2p.Message) error {
	var rp p2p.RevealPayload
	if err := json.Unmarshal(msg.Payload, &rp); err != nil {
		return fmt.Errorf("decode reveal: %w", err)
	}
	bet, err := a.Reveal(ctx, rp.BetID, rp.Preimage)
	if err != nil {
		return err
	}
	a.log.Info("bet settled from reveal",
		zap.Uint64("bet_id", bet.ID),
		zap.String("from", msg.SenderID),
		zap.Stringer("winner", bet.Result.Winner),
	)
	return nil
}

// OnBetCreated is a bus handler that commits to every new bet naming the agent as house. The
// commit runs in its own goroutine because the creating transition is still publishing.
func (a *Agent) OnBetCreated(ctx context.Context, ev events.Event) {
	created, ok := ev.(events.BetCreated)
	if !ok || created.House != a.account {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := a.Commit(ctx, created.BetID); err != nil {
			a.log.Error("house commit failed", zap.Uint64("bet_id", created.BetID), zap.Error(err))
			return
		}
		a.log.Info("house committed", zap.Uint64("bet_id", created.BetID))
	}()
}
