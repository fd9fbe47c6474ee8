package settlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

var ErrLockedFunds = errors.New("funds are locked by unsettled bets")

// Treasury is the pooled balance held on behalf of open bets. Locked is the sum of stakes of
// unsettled bets. Settling holds the fees of pools whose payout has not gone through yet.
// Locked plus Settling never exceeds Balance.
type Treasury struct {
	mu       sync.Mutex
	balance  *uint256.Int
	locked   *uint256.Int
	settling *uint256.Int
	fees     *uint256.Int
}

// Snapshot is a point-in-time view of a Treasury.
type Snapshot struct {
	Balance  *uint256.Int `json:"balance"`
	Locked   *uint256.Int `json:"locked"`
	Settling *uint256.Int `json:"settling"`
	Fees     *uint256.Int `json:"fees"`
}

func NewTreasury() *Treasury {
	return &Treasury{
		balance:  new(uint256.Int),
		locked:   new(uint256.Int),
		settling: new(uint256.Int),
		fees:     new(uint256.Int),
	}
}

// Lock adds a collected stake to the pool.
func (t *Treasury) Lock(amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, o1 := new(uint256.Int).AddOverflow(t.balance, amount)
	locked, o2 := new(uint256.Int).AddOverflow(t.locked, amount)
	if o1 || o2 {
		return ErrOverflow
	}
	t.balance, t.locked = balance, locked
	return nil
}

// Unlock reverses Lock for a stake that is being refunded.
func (t *Treasury) Unlock(amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked.Lt(amount) {
		return fmt.Errorf("unlock %s exceeds locked %s", amount.Dec(), t.locked.Dec())
	}
	t.balance = new(uint256.Int).Sub(t.balance, amount)
	t.locked = new(uint256.Int).Sub(t.locked, amount)
	return nil
}

// Release frees a pool being settled: the payout leaves the treasury and the fee is held as
// settling until Confirm or Restore.
func (t *Treasury) Release(s Split) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked.Lt(s.Pool) {
		return fmt.Errorf("release %s exceeds locked %s", s.Pool.Dec(), t.locked.Dec())
	}
	t.locked = new(uint256.Int).Sub(t.locked, s.Pool)
	t.balance = new(uint256.Int).Sub(t.balance, s.Payout)
	t.settling = new(uint256.Int).Add(t.settling, s.Fee)
	return nil
}

// Confirm turns the fee of a released pool into free balance once its payout went through.
func (t *Treasury) Confirm(s Split) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settling = new(uint256.Int).Sub(t.settling, s.Fee)
	t.fees = new(uint256.Int).Add(t.fees, s.Fee)
}

// Restore reverses Release after a failed payout.
func (t *Treasury) Restore(s Split) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locked = new(uint256.Int).Add(t.locked, s.Pool)
	t.balance = new(uint256.Int).Add(t.balance, s.Payout)
	t.settling = new(uint256.Int).Sub(t.settling, s.Fee)
}

// Sweep removes every unit of balance that is neither locked nor settling and returns it.
func (t *Treasury) Sweep() (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	held := new(uint256.Int).Add(t.locked, t.settling)
	if t.balance.Lt(held) {
		return nil, fmt.Errorf("%w: balance %s below held %s", ErrLockedFunds, t.balance.Dec(), held.Dec())
	}
	free := new(uint256.Int).Sub(t.balance, held)
	t.balance = held
	t.fees = new(uint256.Int)
	return free, nil
}

// Refund puts back an amount removed by Sweep whose transfer failed.
func (t *Treasury) Refund(amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = new(uint256.Int).Add(t.balance, amount)
}

func (t *Treasury) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Balance:  new(uint256.Int).Set(t.balance),
		Locked:   new(uint256.Int).Set(t.locked),
		Settling: new(uint256.Int).Set(t.settling),
		Fees:     new(uint256.Int).Set(t.fees),
	}
}
