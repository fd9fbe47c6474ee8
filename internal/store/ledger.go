// ledger.go - Append-only bet ledger persisted as a single JSON file.
//
// Every bet ever created is a row, indexed by id. Rows are updated in place as a bet advances and
// are never removed. The whole file is rewritten through a temp file and rename on each write.

// Package store persists bets outside the process.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"flipcoin/internal/wager"
)

// Ledger is a wager.Store backed by a JSON file.
type Ledger struct {
	mu   sync.Mutex
	path string
	Bets []wager.Bet `json:"bets"`
}

// OpenLedger loads the ledger at path, or starts an empty one if the file does not exist.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(l); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	for i, b := range l.Bets {
		if b.ID != uint64(i) {
			return nil, fmt.Errorf("ledger %s: row %d holds bet %d", path, i, b.ID)
		}
	}
	return l, nil
}

// Insert appends a bet. Its id must be the next row.
func (l *Ledger) Insert(_ context.Context, b wager.Bet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b.ID != uint64(len(l.Bets)) {
		return fmt.Errorf("insert bet %d: next row is %d", b.ID, len(l.Bets))
	}
	l.Bets = append(l.Bets, b.Clone())
	if err := l.save(); err != nil {
		l.Bets = l.Bets[:len(l.Bets)-1]
		return err
	}
	return nil
}

// Update overwrites the row of an existing bet.
func (l *Ledger) Update(_ context.Context, b wager.Bet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b.ID >= uint64(len(l.Bets)) {
		return fmt.Errorf("%w: %d", wager.ErrBetNotFound, b.ID)
	}
	prev := l.Bets[b.ID]
	l.Bets[b.ID] = b.Clone()
	if err := l.save(); err != nil {
		l.Bets[b.ID] = prev
		return err
	}
	return nil
}

// All returns every bet in id order.
func (l *Ledger) All(_ context.Context) ([]wager.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wager.Bet, len(l.Bets))
	for i, b := range l.Bets {
		out[i] = b.Clone()
	}
	return out, nil
}

// Ping checks that the ledger's directory is writable.
func (l *Ledger) Ping(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(l.path), ".ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (l *Ledger) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
