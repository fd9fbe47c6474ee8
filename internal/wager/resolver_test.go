package wager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipcoin/internal/fairness"
	"flipcoin/internal/verifier"
)

func TestProofSettlementEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	ccs, err := fairness.Compile()
	require.NoError(t, err)
	pk, vk, err := fairness.SetupOrLoadKeys(ccs, t.TempDir())
	require.NoError(t, err)
	prover := fairness.NewProver(ccs, pk)

	h := newHarness(t, NewProofResolver(verifier.New(vk, nil)))
	ctx := context.Background()
	b := h.fulfilled(t)
	p, hs := fixture()

	proof, err := prover.Prove(p, hs, b.RandomIndex)
	require.NoError(t, err)

	// a valid proof for another index is still a valid proof, but not for this bet
	other, err := prover.Prove(p, hs, 0)
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, player, b.ID, ProofClaim{Proof: other.Bytes, Signals: other.Signals})
	assert.ErrorIs(t, err, ErrInvalidPublicInput)

	// right signals, wrong proof bytes
	_, err = h.engine.Settle(ctx, player, b.ID, ProofClaim{Proof: other.Bytes, Signals: proof.Signals})
	assert.ErrorIs(t, err, verifier.ErrProofRejected)
	assert.Equal(t, ClassProof, Classify(err))

	settled, err := h.engine.Settle(ctx, house, b.ID, ProofClaim{Proof: proof.Bytes, Signals: proof.Signals})
	require.NoError(t, err)
	assert.Equal(t, house, settled.Result.Winner)

	_, err = h.engine.Settle(ctx, player, b.ID, ProofClaim{Proof: proof.Bytes, Signals: proof.Signals})
	assert.ErrorIs(t, err, ErrAlreadySettled)
}

func TestRevealResolverRejectsBadIndex(t *testing.T) {
	p, hs := fixture()
	bet := Bet{
		PlayerCommit: fairness.Commit(p),
		HouseCommit:  fairness.Commit(hs),
		RandomIndex:  NoIndex,
	}
	_, err := NewRevealResolver().Resolve(context.Background(), bet, RevealClaim{Player: p, House: hs})
	assert.ErrorIs(t, err, ErrPrecondition)
}
