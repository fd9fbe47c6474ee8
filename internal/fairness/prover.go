package fairness

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// Proof is a serialized Groth16 proof together with the public signals it was produced for.
type Proof struct {
	Bytes   []byte
	Signals PublicSignals
	Flip    Flip
}

// Prover holds the compiled circuit and proving key.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	return &Prover{ccs: ccs, pk: pk}
}

// Prove computes the flip at bitIndex and proves it against the commitments of both preimages.
func (p *Prover) Prove(player, house Preimage, bitIndex int) (*Proof, error) {
	flip, err := Resolve(player, house, bitIndex)
	if err != nil {
		return nil, err
	}
	playerCommit := Commit(player)
	houseCommit := Commit(house)

	assignment := &Circuit{
		PlayerCommit: playerCommit.BigInt(),
		HouseCommit:  houseCommit.BigInt(),
		BitIndex:     bitIndex,
		Outcome:      flip.Outcome,
	}
	for i := 0; i < WordCount; i++ {
		assignment.PlayerPreimage[i] = player[i]
		assignment.HousePreimage[i] = house[i]
	}

	witness, err := frontend.NewWitness(assignment, Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return &Proof{
		Bytes:   buf.Bytes(),
		Signals: NewPublicSignals(playerCommit, houseCommit, bitIndex, flip.Outcome),
		Flip:    flip,
	}, nil
}
