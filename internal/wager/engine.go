package wager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"flipcoin/internal/events"
	"flipcoin/internal/fairness"
	"flipcoin/internal/settlement"
)

// RandomnessRequester starts the oracle round for a bet. It must return before the answer is
// delivered. CancelRandomness withdraws a request whose transition was rolled back.
type RandomnessRequester interface {
	RequestRandomness(ctx context.Context, betID uint64) (uint64, error)
	CancelRandomness(betID uint64)
}

// Recorder observes transitions.
type Recorder interface {
	Transition(op string, class Class)
	BetSettled(playerWon bool)
	FundsLocked(locked *uint256.Int)
}

// Params are the admin-tunable limits.
type Params struct {
	MinBet     *uint256.Int `json:"min_bet"`
	MaxBet     *uint256.Int `json:"max_bet"`
	HouseFeeBP uint64       `json:"house_fee_bp"`
}

func (p Params) clone() Params {
	return Params{
		MinBet:     new(uint256.Int).Set(p.MinBet),
		MaxBet:     new(uint256.Int).Set(p.MaxBet),
		HouseFeeBP: p.HouseFeeBP,
	}
}

// Options configures an Engine. Resolver, Bank and Admin are required.
type Options struct {
	Admin               common.Address
	Oracle              common.Address
	Params              Params
	FeeCeilingBP        uint64
	AllowTestRandomness bool

	Resolver   Resolver
	Bank       settlement.Bank
	Treasury   *settlement.Treasury
	Store      Store
	Randomness RandomnessRequester
	// Publisher is called with the bet's lock held. Slow sinks belong behind an events.Queue.
	Publisher events.Publisher
	Recorder   Recorder
	Log        *zap.Logger
	Now        func() time.Time
}

// Engine is the single writer of bets. Every transition on one id holds that bet's lock from
// precondition check to commit; a failed transition undoes whatever it already did.
type Engine struct {
	admin        common.Address
	oracle       common.Address
	feeCeiling   uint64
	allowTestRNG bool

	resolver  Resolver
	bank      settlement.Bank
	treasury  *settlement.Treasury
	store     Store
	requester RandomnessRequester
	publisher events.Publisher
	recorder  Recorder
	log       *zap.Logger
	now       func() time.Time

	registry *Registry
	createMu sync.Mutex

	paramsMu sync.RWMutex
	params   Params
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Resolver == nil {
		return nil, errors.New("engine needs a resolver")
	}
	if opts.Bank == nil {
		return nil, errors.New("engine needs a bank")
	}
	if opts.Admin == (common.Address{}) {
		return nil, errors.New("engine needs an admin account")
	}
	if opts.FeeCeilingBP == 0 {
		opts.FeeCeilingBP = settlement.DefaultFeeCeiling
	}
	if err := validateParams(opts.Params, opts.FeeCeilingBP); err != nil {
		return nil, err
	}
	if opts.Treasury == nil {
		opts.Treasury = settlement.NewTreasury()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		admin:        opts.Admin,
		oracle:       opts.Oracle,
		feeCeiling:   opts.FeeCeilingBP,
		allowTestRNG: opts.AllowTestRandomness,
		resolver:     opts.Resolver,
		bank:         opts.Bank,
		treasury:     opts.Treasury,
		store:        opts.Store,
		requester:    opts.Randomness,
		publisher:    opts.Publisher,
		recorder:     opts.Recorder,
		log:          opts.Log.Named("engine"),
		now:          opts.Now,
		registry:     NewRegistry(),
		params:       opts.Params.clone(),
	}, nil
}

func validateParams(p Params, ceiling uint64) error {
	if p.MinBet == nil || p.MaxBet == nil || p.MinBet.IsZero() || p.MinBet.Gt(p.MaxBet) {
		return ErrInvalidLimits
	}
	return settlement.ValidateFee(p.HouseFeeBP, ceiling)
}

// Variant is the game variant this engine settles.
func (e *Engine) Variant() Variant {
	return e.resolver.Variant()
}

// Params returns the current limits and fee.
func (e *Engine) Params() Params {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params.clone()
}

// FeeCeiling is the largest fee UpdateHouseFee accepts.
func (e *Engine) FeeCeiling() uint64 {
	return e.feeCeiling
}

// BetInfo returns a snapshot of bet id.
func (e *Engine) BetInfo(id uint64) (Bet, error) {
	return e.registry.Snapshot(id)
}

// Bets returns snapshots of up to limit bets starting at from.
func (e *Engine) Bets(from uint64, limit int) []Bet {
	return e.registry.Range(from, limit)
}

// Count is the number of bets ever created.
func (e *Engine) Count() int {
	return e.registry.Len()
}

// Treasury returns the pool's balances.
func (e *Engine) Treasury() settlement.Snapshot {
	return e.treasury.Snapshot()
}

// CreateBet opens a bet from caller against house and collects caller's stake.
func (e *Engine) CreateBet(ctx context.Context, caller, house common.Address, playerCommit fairness.Commitment, stake *uint256.Int) (bet Bet, err error) {
	defer e.observe("create", &err)

	params := e.Params()
	if stake == nil || stake.Lt(params.MinBet) || stake.Gt(params.MaxBet) {
		return Bet{}, fmt.Errorf("%w: stake %s outside [%s, %s]", ErrOutOfRange, dec(stake), params.MinBet.Dec(), params.MaxBet.Dec())
	}
	if house == (common.Address{}) || house == caller {
		return Bet{}, fmt.Errorf("%w: house %s", ErrInvalidCounterparty, house.Hex())
	}
	if caller == (common.Address{}) {
		return Bet{}, fmt.Errorf("%w: zero caller", ErrUnauthorized)
	}
	if playerCommit.IsZero() {
		return Bet{}, fmt.Errorf("%w: player commitment is zero", ErrInvalidCommitment)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()
	if err := ctx.Err(); err != nil {
		return Bet{}, err
	}
	batch := events.NewBatch(e.publisher)
	defer e.commit(ctx, batch, &err)

	bet = Bet{
		ID:           uint64(e.registry.Len()),
		Player:       caller,
		House:        house,
		Amount:       new(uint256.Int).Set(stake),
		PlayerCommit: playerCommit,
		RandomIndex:  NoIndex,
		CreatedAt:    e.now().UTC(),
	}

	var undo rollback
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	if err := e.bank.Collect(ctx, caller, stake); err != nil {
		return Bet{}, fmt.Errorf("collect stake: %w", err)
	}
	undo.add(func() { e.refund(ctx, caller, stake) })
	if err := e.treasury.Lock(stake); err != nil {
		return Bet{}, err
	}
	undo.add(func() { e.unlock(stake) })
	if err := e.store.Insert(ctx, bet); err != nil {
		return Bet{}, fmt.Errorf("persist bet %d: %w", bet.ID, err)
	}
	if err := e.registry.append(bet); err != nil {
		return Bet{}, err
	}

	batch.Add(events.BetCreated{
		BetID:        bet.ID,
		Player:       bet.Player,
		House:        bet.House,
		Amount:       new(uint256.Int).Set(bet.Amount),
		PlayerCommit: bet.PlayerCommit,
	})
	e.log.Info("bet created",
		zap.Uint64("bet_id", bet.ID),
		zap.Stringer("player", bet.Player),
		zap.Stringer("house", bet.House),
		zap.String("amount", bet.Amount.Dec()),
	)
	return bet.Clone(), nil
}

// HouseCommit records the house's commitment, collects its matching stake and requests
// randomness for the bet.
func (e *Engine) HouseCommit(ctx context.Context, caller common.Address, id uint64, commit fairness.Commitment) (bet Bet, err error) {
	defer e.observe("house_commit", &err)

	ent, err := e.registry.get(id)
	if err != nil {
		return Bet{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	batch := events.NewBatch(e.publisher)
	defer e.commit(ctx, batch, &err)

	prev := ent.bet
	if caller != prev.House {
		return Bet{}, fmt.Errorf("%w: %s is not the house of bet %d", ErrUnauthorized, caller.Hex(), id)
	}
	if prev.Status() != StatusCreated {
		return Bet{}, fmt.Errorf("%w: bet %d is %s", ErrAlreadyCommitted, id, prev.Status())
	}
	if commit.IsZero() {
		return Bet{}, fmt.Errorf("%w: house commitment is zero", ErrInvalidCommitment)
	}

	var undo rollback
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	if err := e.bank.Collect(ctx, caller, prev.Amount); err != nil {
		return Bet{}, fmt.Errorf("collect house stake: %w", err)
	}
	undo.add(func() { e.refund(ctx, caller, prev.Amount) })
	if err := e.treasury.Lock(prev.Amount); err != nil {
		return Bet{}, err
	}
	undo.add(func() { e.unlock(prev.Amount) })

	next := prev.Clone()
	next.HouseCommit = commit
	if e.requester != nil {
		reqID, err := e.requester.RequestRandomness(ctx, id)
		if err != nil {
			return Bet{}, err
		}
		undo.add(func() { e.requester.CancelRandomness(id) })
		next.RequestID = reqID
	}
	if err := e.store.Update(ctx, next); err != nil {
		return Bet{}, fmt.Errorf("persist bet %d: %w", id, err)
	}
	ent.bet = next

	batch.Add(events.HouseCommitted{BetID: id, House: next.House, HouseCommit: commit})
	if e.requester != nil {
		batch.Add(events.RandomnessRequested{BetID: id, RequestID: next.RequestID})
	}
	e.log.Info("house committed", zap.Uint64("bet_id", id), zap.Uint64("request_id", next.RequestID))
	return next.Clone(), nil
}

// FulfillRandomness stores the oracle's index. Only the oracle account may call it.
func (e *Engine) FulfillRandomness(ctx context.Context, caller common.Address, id uint64, index int) (err error) {
	defer e.observe("fulfill_randomness", &err)

	if e.oracle == (common.Address{}) || caller != e.oracle {
		return fmt.Errorf("%w: %s is not the oracle", ErrUnauthorized, caller.Hex())
	}
	return e.setIndex(ctx, id, index)
}

// SetRandomIndexForTest lets the admin set the index directly. It is refused unless the engine was
// built with AllowTestRandomness.
func (e *Engine) SetRandomIndexForTest(ctx context.Context, caller common.Address, id uint64, index int) (err error) {
	defer e.observe("set_random_index_for_test", &err)

	if !e.allowTestRNG {
		return ErrTestModeDisabled
	}
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	return e.setIndex(ctx, id, index)
}

func (e *Engine) setIndex(ctx context.Context, id uint64, index int) (err error) {
	if index < 0 || index >= fairness.IndexSpace {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	ent, err := e.registry.get(id)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	batch := events.NewBatch(e.publisher)
	defer e.commit(ctx, batch, &err)

	prev := ent.bet
	if prev.Status() != StatusHouseCommitted {
		return fmt.Errorf("%w: bet %d is %s, want %s", ErrPrecondition, id, prev.Status(), StatusHouseCommitted)
	}
	next := prev.Clone()
	next.RandomIndex = index
	if err := e.store.Update(ctx, next); err != nil {
		return fmt.Errorf("persist bet %d: %w", id, err)
	}
	ent.bet = next

	batch.Add(events.RandomnessFulfilled{BetID: id, RandomIndex: index})
	e.log.Info("randomness fulfilled", zap.Uint64("bet_id", id), zap.Int("random_index", index))
	return nil
}

// Settle validates claim through the engine's resolver and pays the winner. The bet is marked
// settled before any value moves; a failed payout restores it.
func (e *Engine) Settle(ctx context.Context, caller common.Address, id uint64, claim Claim) (bet Bet, err error) {
	defer e.observe("settle", &err)

	ent, err := e.registry.get(id)
	if err != nil {
		return Bet{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	batch := events.NewBatch(e.publisher)
	defer e.commit(ctx, batch, &err)

	prev := ent.bet
	if prev.Settled {
		return Bet{}, fmt.Errorf("%w: bet %d", ErrAlreadySettled, id)
	}
	if prev.Status() != StatusRandomnessFulfilled {
		return Bet{}, fmt.Errorf("%w: bet %d is %s, want %s", ErrPrecondition, id, prev.Status(), StatusRandomnessFulfilled)
	}
	if !prev.isCounterparty(caller) {
		return Bet{}, fmt.Errorf("%w: %s is not a counterparty of bet %d", ErrUnauthorized, caller.Hex(), id)
	}

	res, err := e.resolver.Resolve(ctx, prev.Clone(), claim)
	if err != nil {
		return Bet{}, err
	}
	split, err := settlement.Divide(prev.Amount, e.Params().HouseFeeBP)
	if err != nil {
		return Bet{}, err
	}
	winner, err := settlement.Winner(res.Outcome, prev.Player, prev.House)
	if err != nil {
		return Bet{}, err
	}

	next := prev.Clone()
	next.Settled = true
	next.Result = &Result{
		Winner:    winner,
		Payout:    split.Payout,
		Fee:       split.Fee,
		Outcome:   res.Outcome,
		PlayerBit: res.PlayerBit,
		HouseBit:  res.HouseBit,
		SettledAt: e.now().UTC(),
	}

	var undo rollback
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	if err := e.store.Update(ctx, next); err != nil {
		return Bet{}, fmt.Errorf("persist bet %d: %w", id, err)
	}
	undo.add(func() {
		if err := e.store.Update(context.WithoutCancel(ctx), prev); err != nil {
			e.log.Error("restore bet after failed settlement", zap.Uint64("bet_id", id), zap.Error(err))
		}
	})
	ent.bet = next
	undo.add(func() { ent.bet = prev })

	if err := e.treasury.Release(split); err != nil {
		return Bet{}, err
	}
	undo.add(func() { e.treasury.Restore(split) })
	if err := e.bank.Pay(ctx, winner, split.Payout); err != nil {
		return Bet{}, fmt.Errorf("pay winner: %w", err)
	}
	e.treasury.Confirm(split)

	e.recorder.BetSettled(winner == prev.Player)
	batch.Add(events.BetSettled{
		BetID:     id,
		Winner:    winner,
		Payout:    new(uint256.Int).Set(split.Payout),
		Fee:       new(uint256.Int).Set(split.Fee),
		PlayerBit: res.PlayerBit,
		HouseBit:  res.HouseBit,
		Outcome:   res.Outcome,
	})
	e.log.Info("bet settled",
		zap.Uint64("bet_id", id),
		zap.Stringer("winner", winner),
		zap.String("payout", split.Payout.Dec()),
		zap.String("fee", split.Fee.Dec()),
		zap.Uint8("outcome", res.Outcome),
	)
	return next.Clone(), nil
}

// commit publishes the batch of a transition that succeeded and drops it otherwise. It runs
// before the transition's lock is released, so events for one bet leave in order. Delivery
// failures are logged; the transition stands.
func (e *Engine) commit(ctx context.Context, batch *events.Batch, err *error) {
	if *err != nil {
		batch.Discard()
		return
	}
	if ferr := batch.Flush(ctx); ferr != nil {
		e.log.Warn("event delivery failed", zap.Error(ferr))
	}
}

// emit publishes events of an operation that holds no bet lock.
func (e *Engine) emit(ctx context.Context, ev events.Event) {
	var err error
	batch := events.NewBatch(e.publisher)
	batch.Add(ev)
	e.commit(ctx, batch, &err)
}

func (e *Engine) observe(op string, err *error) {
	class := Classify(*err)
	e.recorder.Transition(op, class)
	e.recorder.FundsLocked(e.treasury.Snapshot().Locked)
	if class != ClassNone {
		e.log.Debug("transition rejected", zap.String("op", op), zap.Stringer("class", class), zap.Error(*err))
	}
}

func (e *Engine) refund(ctx context.Context, to common.Address, amount *uint256.Int) {
	if err := e.bank.Pay(context.WithoutCancel(ctx), to, amount); err != nil {
		e.log.Error("refund failed", zap.Stringer("to", to), zap.String("amount", amount.Dec()), zap.Error(err))
	}
}

func (e *Engine) unlock(amount *uint256.Int) {
	if err := e.treasury.Unlock(amount); err != nil {
		e.log.Error("unlock failed", zap.String("amount", amount.Dec()), zap.Error(err))
	}
}

// rollback runs compensations in reverse order.
type rollback []func()

func (r *rollback) add(f func()) {
	*r = append(*r, f)
}

func (r rollback) run() {
	for i := len(r) - 1; i >= 0; i-- {
		r[i]()
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.Dec()
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, Class) {}
func (nopRecorder) BetSettled(bool)          {}
func (nopRecorder) FundsLocked(*uint256.Int) {}
