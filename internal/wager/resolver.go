package wager

import (
	"context"
	"fmt"
	"math/big"

	"flipcoin/internal/fairness"
	"flipcoin/internal/verifier"
)

// Variant names a game configuration. A deployment runs exactly one.
type Variant string

const (
	// VariantProof settles with a Groth16 proof; the preimages stay private.
	VariantProof Variant = "proof"
	// VariantReveal settles by revealing both preimages.
	VariantReveal Variant = "reveal"
)

// Claim is what a counterparty submits to settle a bet.
type Claim interface {
	variant() Variant
}

// ProofClaim is a proof and the public signals it was produced for.
type ProofClaim struct {
	Proof   []byte
	Signals fairness.PublicSignals
}

func (ProofClaim) variant() Variant { return VariantProof }

// RevealClaim opens both commitments.
type RevealClaim struct {
	Player fairness.Preimage
	House  fairness.Preimage
}

func (RevealClaim) variant() Variant { return VariantReveal }

// Resolution is a validated outcome. Bits are nil when the settler never learns them.
type Resolution struct {
	Outcome   uint8
	PlayerBit *uint8
	HouseBit  *uint8
}

// Resolver validates a claim against a bet in RandomnessFulfilled.
type Resolver interface {
	Variant() Variant
	Resolve(ctx context.Context, bet Bet, claim Claim) (Resolution, error)
}

// ProofResolver checks that the public signals belong to the bet and then verifies the proof.
type ProofResolver struct {
	verifier verifier.Verifier
}

func NewProofResolver(v verifier.Verifier) *ProofResolver {
	return &ProofResolver{verifier: v}
}

func (r *ProofResolver) Variant() Variant { return VariantProof }

func (r *ProofResolver) Resolve(ctx context.Context, bet Bet, claim Claim) (Resolution, error) {
	pc, ok := claim.(ProofClaim)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: want %s", ErrUnsupportedClaim, VariantProof)
	}
	outcome, err := BindSignals(bet, pc.Signals)
	if err != nil {
		return Resolution{}, err
	}
	if err := r.verifier.Verify(ctx, pc.Proof, pc.Signals); err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: outcome}, nil
}

// BindSignals checks that signals name this bet's commitments and index and carry a boolean
// outcome, and returns the outcome. A proof can only be trusted for a bet after this check.
func BindSignals(bet Bet, s fairness.PublicSignals) (uint8, error) {
	if err := s.Complete(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPublicInput, err)
	}
	if s[fairness.SignalPlayerCommit].Cmp(bet.PlayerCommit.BigInt()) != 0 {
		return 0, fmt.Errorf("%w: player commitment", ErrInvalidPublicInput)
	}
	if s[fairness.SignalHouseCommit].Cmp(bet.HouseCommit.BigInt()) != 0 {
		return 0, fmt.Errorf("%w: house commitment", ErrInvalidPublicInput)
	}
	if bet.RandomIndex == NoIndex || s[fairness.SignalBitIndex].Cmp(big.NewInt(int64(bet.RandomIndex))) != 0 {
		return 0, fmt.Errorf("%w: random index", ErrInvalidPublicInput)
	}
	out := s[fairness.SignalOutcome]
	if !out.IsInt64() || (out.Int64() != 0 && out.Int64() != 1) {
		return 0, fmt.Errorf("%w: outcome %s is not a bit", ErrInvalidPublicInput, out)
	}
	return uint8(out.Int64()), nil
}

// RevealResolver recomputes the flip from both revealed preimages.
type RevealResolver struct{}

func NewRevealResolver() *RevealResolver {
	return &RevealResolver{}
}

func (r *RevealResolver) Variant() Variant { return VariantReveal }

func (r *RevealResolver) Resolve(_ context.Context, bet Bet, claim Claim) (Resolution, error) {
	rc, ok := claim.(RevealClaim)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: want %s", ErrUnsupportedClaim, VariantReveal)
	}
	if !bet.PlayerCommit.Matches(rc.Player) {
		return Resolution{}, fmt.Errorf("%w: player", ErrInvalidPreimage)
	}
	if !bet.HouseCommit.Matches(rc.House) {
		return Resolution{}, fmt.Errorf("%w: house", ErrInvalidPreimage)
	}
	flip, err := fairness.Resolve(rc.Player, rc.House, bet.RandomIndex)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	pb, hb := flip.PlayerBit, flip.HouseBit
	return Resolution{Outcome: flip.Outcome, PlayerBit: &pb, HouseBit: &hb}, nil
}
