package fairness

import (
	"errors"
	"fmt"
	"math/big"
)

// Positions in PublicSignals.
const (
	SignalPlayerCommit = iota
	SignalHouseCommit
	SignalBitIndex
	SignalOutcome
	SignalCount
)

// PublicSignals is the ordered public-input vector [playerCommit, houseCommit, bitIndex, outcome].
type PublicSignals [SignalCount]*big.Int

var errMissingSignal = errors.New("missing public signal")

// NewPublicSignals builds the vector for a flip.
func NewPublicSignals(playerCommit, houseCommit Commitment, bitIndex int, outcome uint8) PublicSignals {
	return PublicSignals{
		playerCommit.BigInt(),
		houseCommit.BigInt(),
		big.NewInt(int64(bitIndex)),
		big.NewInt(int64(outcome)),
	}
}

// ParsePublicSignals decodes decimal or 0x-hex strings.
func ParsePublicSignals(raw []string) (PublicSignals, error) {
	var s PublicSignals
	if len(raw) != SignalCount {
		return s, fmt.Errorf("expected %d public signals, got %d", SignalCount, len(raw))
	}
	for i, r := range raw {
		v, ok := new(big.Int).SetString(r, 0)
		if !ok {
			return s, fmt.Errorf("public signal %d: invalid integer %q", i, r)
		}
		s[i] = v
	}
	return s, nil
}

// Strings renders the vector in decimal.
func (s PublicSignals) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		if v != nil {
			out[i] = v.String()
		}
	}
	return out
}

// Complete reports an error if any position is unset.
func (s PublicSignals) Complete() error {
	for i, v := range s {
		if v == nil {
			return fmt.Errorf("%w at position %d", errMissingSignal, i)
		}
	}
	return nil
}

// PublicAssignment returns a circuit assignment carrying only the public inputs.
func (s PublicSignals) PublicAssignment() (*Circuit, error) {
	if err := s.Complete(); err != nil {
		return nil, err
	}
	return &Circuit{
		PlayerCommit: s[SignalPlayerCommit],
		HouseCommit:  s[SignalHouseCommit],
		BitIndex:     s[SignalBitIndex],
		Outcome:      s[SignalOutcome],
	}, nil
}
