package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Bank moves value between accounts and the pool.
type Bank interface {
	Collect(ctx context.Context, from common.Address, amount *uint256.Int) error
	Pay(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Vault is an in-memory Bank of account balances.
type Vault struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
}

func NewVault() *Vault {
	return &Vault{balances: make(map[common.Address]*uint256.Int)}
}

// Deposit credits account with amount.
func (v *Vault) Deposit(account common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(account, amount)
}

// Balance returns a copy of account's balance.
func (v *Vault) Balance(account common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (v *Vault) Collect(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[from]
	if !ok || b.Lt(amount) {
		have := "0"
		if ok {
			have = b.Dec()
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), have, amount.Dec())
	}
	v.balances[from] = new(uint256.Int).Sub(b, amount)
	return nil
}

func (v *Vault) Pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(to, amount)
}

func (v *Vault) credit(account common.Address, amount *uint256.Int) error {
	b, ok := v.balances[account]
	if !ok {
		b = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(b, amount)
	if overflow {
		return ErrOverflow
	}
	v.balances[account] = sum
	return nil
}
