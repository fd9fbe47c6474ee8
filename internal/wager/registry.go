package wager

import (
	"fmt"
	"sync"
)

// entry guards one bet. Writers hold mu for a whole transition.
type entry struct {
	mu  sync.RWMutex
	bet Bet
}

// Registry is an append-only arena of bets indexed by id. Ids are slice positions.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Len is the number of bets, which is also the next id.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) get(id uint64) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id >= uint64(len(r.entries)) {
		return nil, fmt.Errorf("%w: %d", ErrBetNotFound, id)
	}
	return r.entries[id], nil
}

func (r *Registry) append(b Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID != uint64(len(r.entries)) {
		return fmt.Errorf("bet id %d out of sequence, next is %d", b.ID, len(r.entries))
	}
	r.entries = append(r.entries, &entry{bet: b})
	return nil
}

// Snapshot returns a copy of bet id.
func (r *Registry) Snapshot(id uint64) (Bet, error) {
	e, err := r.get(id)
	if err != nil {
		return Bet{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bet.Clone(), nil
}

// Range returns copies of up to limit bets starting at from.
func (r *Registry) Range(from uint64, limit int) []Bet {
	r.mu.RLock()
	var window []*entry
	if from < uint64(len(r.entries)) {
		end := len(r.entries)
		if limit > 0 && int(from)+limit < end {
			end = int(from) + limit
		}
		window = append(window, r.entries[from:end]...)
	}
	r.mu.RUnlock()

	out := make([]Bet, 0, len(window))
	for _, e := range window {
		e.mu.RLock()
		out = append(out, e.bet.Clone())
		e.mu.RUnlock()
	}
	return out
}
