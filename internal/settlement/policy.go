// Package settlement computes fees and payouts and moves pooled stake.
package settlement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// BasisPointsDenominator is 100%.
	BasisPointsDenominator = 10_000
	// DefaultFeeCeiling caps the house fee at 10%.
	DefaultFeeCeiling = 1_000
	// OutcomePlayerWins is the outcome bit that pays the player. Outcome 0 pays the house.
	OutcomePlayerWins = 1
)

var (
	ErrFeeTooHigh     = errors.New("fee too high")
	ErrInvalidOutcome = errors.New("outcome must be 0 or 1")
	ErrOverflow       = errors.New("amount overflow")
)

// Split is the division of a settled pool.
type Split struct {
	Pool   *uint256.Int
	Fee    *uint256.Int
	Payout *uint256.Int
}

// ValidateFee rejects fees above ceiling or above 100%.
func ValidateFee(bp, ceiling uint64) error {
	if bp > ceiling || bp > BasisPointsDenominator {
		return fmt.Errorf("%w: %d bp exceeds ceiling %d bp", ErrFeeTooHigh, bp, ceiling)
	}
	return nil
}

// Pool is twice the stake: each side puts in the same amount.
func Pool(stake *uint256.Int) (*uint256.Int, error) {
	pool, overflow := new(uint256.Int).AddOverflow(stake, stake)
	if overflow {
		return nil, ErrOverflow
	}
	return pool, nil
}

// Divide computes pool = 2*stake, fee = floor(pool*bp/10000) and payout = pool - fee.
func Divide(stake *uint256.Int, feeBP uint64) (Split, error) {
	if feeBP > BasisPointsDenominator {
		return Split{}, fmt.Errorf("%w: %d bp", ErrFeeTooHigh, feeBP)
	}
	pool, err := Pool(stake)
	if err != nil {
		return Split{}, err
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(pool, uint256.NewInt(feeBP), uint256.NewInt(BasisPointsDenominator))
	if overflow {
		return Split{}, ErrOverflow
	}
	return Split{
		Pool:   pool,
		Fee:    fee,
		Payout: new(uint256.Int).Sub(pool, fee),
	}, nil
}

// Winner maps the outcome bit to a counterparty.
func Winner(outcome uint8, player, house common.Address) (common.Address, error) {
	switch outcome {
	case OutcomePlayerWins:
		return player, nil
	case 0:
		return house, nil
	default:
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, outcome)
	}
}
