// Package verifier checks Groth16 fairness proofs against a fixed verifying key.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"flipcoin/internal/fairness"
)

// ErrProofRejected is returned when the pairing check fails or the proof cannot be decoded.
var ErrProofRejected = errors.New("proof rejected")

// Verifier checks a proof against an ordered public-signal vector. It does not know which bet the
// signals belong to; binding them to a bet is the caller's job.
type Verifier interface {
	Verify(ctx context.Context, proof []byte, signals fairness.PublicSignals) error
}

// Observer receives verification timings.
type Observer interface {
	ObserveProofVerification(d time.Duration, ok bool)
}

// Groth16 verifies fairness proofs with one verifying key.
type Groth16 struct {
	vk       groth16.VerifyingKey
	observer Observer
}

// New returns a verifier for vk. observer may be nil.
func New(vk groth16.VerifyingKey, observer Observer) *Groth16 {
	return &Groth16{vk: vk, observer: observer}
}

// Load reads the verifying key at path.
func Load(path string, observer Observer) (*Groth16, error) {
	vk, err := fairness.LoadVerifyingKey(path)
	if err != nil {
		return nil, fmt.Errorf("load verifying key: %w", err)
	}
	return New(vk, observer), nil
}

func (g *Groth16) Verify(ctx context.Context, proof []byte, signals fairness.PublicSignals) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		if g.observer != nil {
			g.observer.ObserveProofVerification(time.Since(start), err == nil)
		}
	}()

	assignment, err := signals.PublicAssignment()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofRejected, err)
	}
	publicWitness, err := frontend.NewWitness(assignment, fairness.Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: public witness creation failed: %v", ErrProofRejected, err)
	}

	p := groth16.NewProof(fairness.Curve)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return fmt.Errorf("%w: proof unmarshaling failed: %v", ErrProofRejected, err)
	}
	if err := groth16.Verify(p, g.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofRejected, err)
	}
	return nil
}
