package wager

import (
	"context"
	"sync"
)

// Store persists bets as an append-only, id-indexed table. Rows are inserted once and updated in
// place as the bet advances; nothing is ever deleted.
type Store interface {
	Insert(ctx context.Context, b Bet) error
	Update(ctx context.Context, b Bet) error
	All(ctx context.Context) ([]Bet, error)
}

// MemoryStore keeps bets in memory only.
type MemoryStore struct {
	mu   sync.Mutex
	bets []Bet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, b Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, b.Clone())
	return nil
}

func (s *MemoryStore) Update(_ context.Context, b Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].ID == b.ID {
			s.bets[i] = b.Clone()
			return nil
		}
	}
	return ErrBetNotFound
}

func (s *MemoryStore) All(_ context.Context) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bet, len(s.bets))
	for i, b := range s.bets {
		out[i] = b.Clone()
	}
	return out, nil
}
