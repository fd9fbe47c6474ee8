// Package fairness implements the commit-reveal core of the coin-flip wager.
//
// Overview:
//   - A Preimage is a 512-bit secret held as 16 ordered 32-bit words
//   - Commit binds a Preimage to a single BN254 scalar using MiMC
//   - Circuit proves that two committed preimages and a public bit index yield a public outcome
//   - Prover produces Groth16 proofs for the circuit; keys are persisted with SetupOrLoadKeys
//
// The outcome of a flip is the XOR of the bit at BitIndex in the player's preimage and the bit at
// the same position in the house's preimage. BitIndex selects word BitIndex/32 and bit BitIndex%32
// (least significant bit first).
//
// Native helpers (Commit, Locate, Resolve) compute exactly what the circuit constrains, so a
// settlement can be checked without a proof when both preimages are revealed.
package fairness
