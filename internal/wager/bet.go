package wager

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"flipcoin/internal/fairness"
)

// NoIndex marks a bet whose random index has not been fulfilled.
const NoIndex = -1

// Status is derived from a Bet's fields; it is never stored.
type Status uint8

const (
	StatusCreated Status = iota
	StatusHouseCommitted
	StatusRandomnessFulfilled
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusHouseCommitted:
		return "house_committed"
	case StatusRandomnessFulfilled:
		return "randomness_fulfilled"
	case StatusSettled:
		return "settled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Bet is one wager between a player and a house.
type Bet struct {
	ID           uint64              `json:"id"`
	Player       common.Address      `json:"player"`
	House        common.Address      `json:"house"`
	Amount       *uint256.Int        `json:"amount"`
	PlayerCommit fairness.Commitment `json:"player_commit"`
	HouseCommit  fairness.Commitment `json:"house_commit"`
	RandomIndex  int                 `json:"random_index"`
	RequestID    uint64              `json:"request_id,omitempty"`
	Settled      bool                `json:"settled"`
	CreatedAt    time.Time           `json:"created_at"`
	Result       *Result             `json:"result,omitempty"`
}

// Result records how a bet was settled.
type Result struct {
	Winner    common.Address `json:"winner"`
	Payout    *uint256.Int   `json:"payout"`
	Fee       *uint256.Int   `json:"fee"`
	Outcome   uint8          `json:"outcome"`
	PlayerBit *uint8         `json:"player_bit,omitempty"`
	HouseBit  *uint8         `json:"house_bit,omitempty"`
	SettledAt time.Time      `json:"settled_at"`
}

func (b Bet) Status() Status {
	switch {
	case b.Settled:
		return StatusSettled
	case b.RandomIndex != NoIndex:
		return StatusRandomnessFulfilled
	case !b.HouseCommit.IsZero():
		return StatusHouseCommitted
	default:
		return StatusCreated
	}
}

// Locked is the stake the pool holds for b: nothing once settled, both stakes once the house has
// matched, the player's stake before.
func (b Bet) Locked() *uint256.Int {
	switch b.Status() {
	case StatusSettled:
		return new(uint256.Int)
	case StatusCreated:
		return new(uint256.Int).Set(b.Amount)
	default:
		return new(uint256.Int).Add(b.Amount, b.Amount)
	}
}

// Clone returns a deep copy.
func (b Bet) Clone() Bet {
	c := b
	if b.Amount != nil {
		c.Amount = new(uint256.Int).Set(b.Amount)
	}
	if b.Result != nil {
		r := *b.Result
		if r.Payout != nil {
			r.Payout = new(uint256.Int).Set(r.Payout)
		}
		if r.Fee != nil {
			r.Fee = new(uint256.Int).Set(r.Fee)
		}
		r.PlayerBit = copyBit(r.PlayerBit)
		r.HouseBit = copyBit(r.HouseBit)
		c.Result = &r
	}
	return c
}

func (b Bet) isCounterparty(a common.Address) bool {
	return a == b.Player || a == b.House
}

func copyBit(p *uint8) *uint8 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
