package wager

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"flipcoin/internal/events"
	"flipcoin/internal/settlement"
)

// Admin is the account allowed to tune parameters and sweep fees.
func (e *Engine) Admin() common.Address {
	return e.admin
}

// UpdateHouseFee sets the fee charged on settled pools.
func (e *Engine) UpdateHouseFee(ctx context.Context, caller common.Address, bp uint64) (err error) {
	defer e.observe("update_house_fee", &err)

	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	if err := settlement.ValidateFee(bp, e.feeCeiling); err != nil {
		return err
	}
	e.paramsMu.Lock()
	e.params.HouseFeeBP = bp
	e.paramsMu.Unlock()

	e.emit(ctx, events.HouseFeeUpdated{BasisPoints: bp})
	e.log.Info("house fee updated", zap.Uint64("basis_points", bp))
	return nil
}

// UpdateBetLimits sets the stake range for new bets. Open bets keep their stake.
func (e *Engine) UpdateBetLimits(ctx context.Context, caller common.Address, minBet, maxBet *uint256.Int) (err error) {
	defer e.observe("update_bet_limits", &err)

	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	if minBet == nil || maxBet == nil || minBet.IsZero() || minBet.Gt(maxBet) {
		return fmt.Errorf("%w: min %s, max %s", ErrInvalidLimits, dec(minBet), dec(maxBet))
	}
	e.paramsMu.Lock()
	e.params.MinBet = new(uint256.Int).Set(minBet)
	e.params.MaxBet = new(uint256.Int).Set(maxBet)
	e.paramsMu.Unlock()

	e.emit(ctx, events.BetLimitsUpdated{
		MinBet: new(uint256.Int).Set(minBet),
		MaxBet: new(uint256.Int).Set(maxBet),
	})
	e.log.Info("bet limits updated", zap.String("min_bet", minBet.Dec()), zap.String("max_bet", maxBet.Dec()))
	return nil
}

// EmergencyWithdraw pays the admin everything in the pool that no unsettled bet has a claim on.
// Stake locked by open bets is never swept.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller common.Address) (amount *uint256.Int, err error) {
	defer e.observe("emergency_withdraw", &err)

	if caller != e.admin {
		return nil, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	amount, err = e.treasury.Sweep()
	if err != nil {
		return nil, err
	}
	if !amount.IsZero() {
		if err := e.bank.Pay(ctx, caller, amount); err != nil {
			e.treasury.Refund(amount)
			return nil, fmt.Errorf("pay admin: %w", err)
		}
	}
	locked := e.treasury.Snapshot().Locked

	e.emit(ctx, events.EmergencyWithdrawal{
		To:     caller,
		Amount: new(uint256.Int).Set(amount),
		Locked: locked,
	})
	e.log.Warn("emergency withdrawal",
		zap.String("amount", amount.Dec()),
		zap.String("locked", locked.Dec()),
	)
	return amount, nil
}

// Restore loads persisted bets into an empty engine, re-locks the stake of open bets and
// re-requests randomness for bets still waiting on the oracle.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.registry.Len() != 0 {
		return 0, fmt.Errorf("restore into a non-empty registry")
	}
	bets, err := e.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load bets: %w", err)
	}
	for _, b := range bets {
		if err := e.registry.append(b); err != nil {
			return 0, err
		}
		if locked := b.Locked(); !locked.IsZero() {
			if err := e.treasury.Lock(locked); err != nil {
				return 0, err
			}
		}
	}
	for _, b := range bets {
		if b.Status() != StatusHouseCommitted || e.requester == nil {
			continue
		}
		if err := e.rerequest(ctx, b.ID); err != nil {
			e.log.Error("re-request randomness", zap.Uint64("bet_id", b.ID), zap.Error(err))
		}
	}
	e.log.Info("bets restored", zap.Int("count", len(bets)), zap.String("locked", e.treasury.Snapshot().Locked.Dec()))
	return len(bets), nil
}

func (e *Engine) rerequest(ctx context.Context, id uint64) error {
	ent, err := e.registry.get(id)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	reqID, err := e.requester.RequestRandomness(ctx, id)
	if err != nil {
		return err
	}
	next := ent.bet.Clone()
	next.RequestID = reqID
	if err := e.store.Update(ctx, next); err != nil {
		return err
	}
	ent.bet = next
	return nil
}
