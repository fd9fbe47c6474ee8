// Package events defines the notifications emitted by bet transitions and the sinks that carry
// them to subscribers.
package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"flipcoin/internal/fairness"
)

// Type names an event on the wire.
type Type string

const (
	TypeBetCreated          Type = "bet_created"
	TypeHouseCommitted      Type = "house_committed"
	TypeRandomnessRequested Type = "randomness_requested"
	TypeRandomnessFulfilled Type = "randomness_fulfilled"
	TypeBetSettled          Type = "bet_settled"
	TypeHouseFeeUpdated     Type = "house_fee_updated"
	TypeBetLimitsUpdated    Type = "bet_limits_updated"
	TypeEmergencyWithdrawal Type = "emergency_withdrawal"
)

// ParamsKey keys events that are not about a single bet.
const ParamsKey = "params"

// Event is the base interface for all events. Key groups events that must stay ordered.
type Event interface {
	Type() Type
	Key() string
}

func betKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

type BetCreated struct {
	BetID        uint64              `json:"bet_id"`
	Player       common.Address      `json:"player"`
	House        common.Address      `json:"house"`
	Amount       *uint256.Int        `json:"amount"`
	PlayerCommit fairness.Commitment `json:"player_commit"`
}

func (e BetCreated) Type() Type  { return TypeBetCreated }
func (e BetCreated) Key() string { return betKey(e.BetID) }

type HouseCommitted struct {
	BetID       uint64              `json:"bet_id"`
	House       common.Address      `json:"house"`
	HouseCommit fairness.Commitment `json:"house_commit"`
}

func (e HouseCommitted) Type() Type  { return TypeHouseCommitted }
func (e HouseCommitted) Key() string { return betKey(e.BetID) }

type RandomnessRequested struct {
	BetID     uint64 `json:"bet_id"`
	RequestID uint64 `json:"request_id"`
}

func (e RandomnessRequested) Type() Type  { return TypeRandomnessRequested }
func (e RandomnessRequested) Key() string { return betKey(e.BetID) }

type RandomnessFulfilled struct {
	BetID       uint64 `json:"bet_id"`
	RandomIndex int    `json:"random_index"`
}

func (e RandomnessFulfilled) Type() Type  { return TypeRandomnessFulfilled }
func (e RandomnessFulfilled) Key() string { return betKey(e.BetID) }

// BetSettled carries the extracted bits when they are known to the settler. In the proof variant
// the bits stay private and are nil.
type BetSettled struct {
	BetID     uint64         `json:"bet_id"`
	Winner    common.Address `json:"winner"`
	Payout    *uint256.Int   `json:"payout"`
	Fee       *uint256.Int   `json:"fee"`
	PlayerBit *uint8         `json:"player_bit"`
	HouseBit  *uint8         `json:"house_bit"`
	Outcome   uint8          `json:"outcome"`
}

func (e BetSettled) Type() Type  { return TypeBetSettled }
func (e BetSettled) Key() string { return betKey(e.BetID) }

type HouseFeeUpdated struct {
	BasisPoints uint64 `json:"basis_points"`
}

func (e HouseFeeUpdated) Type() Type  { return TypeHouseFeeUpdated }
func (e HouseFeeUpdated) Key() string { return ParamsKey }

type BetLimitsUpdated struct {
	MinBet *uint256.Int `json:"min_bet"`
	MaxBet *uint256.Int `json:"max_bet"`
}

func (e BetLimitsUpdated) Type() Type  { return TypeBetLimitsUpdated }
func (e BetLimitsUpdated) Key() string { return ParamsKey }

type EmergencyWithdrawal struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
	Locked *uint256.Int   `json:"locked"`
}

func (e EmergencyWithdrawal) Type() Type  { return TypeEmergencyWithdrawal }
func (e EmergencyWithdrawal) Key() string { return ParamsKey }
