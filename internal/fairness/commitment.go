// commitment.go - MiMC commitments over BN254 for 512-bit preimages.
//
// Each preimage word is written to the hash as one canonical field element, which is exactly how
// the in-circuit MiMC absorbs the witness variables, so native and circuit digests agree.

package fairness

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Commitment is the big-endian encoding of a BN254 scalar.
type Commitment [fr.Bytes]byte

// Commit hashes the 16 words of p with MiMC.
func Commit(p Preimage) Commitment {
	h := mimc.NewMiMC()
	for _, w := range p {
		var e fr.Element
		e.SetUint64(uint64(w))
		b := e.Bytes()
		// canonical elements never fail to absorb
		_, _ = h.Write(b[:])
	}
	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// Matches reports whether p opens c.
func (c Commitment) Matches(p Preimage) bool {
	return Commit(p) == c
}

func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

func (c Commitment) BigInt() *big.Int {
	return new(big.Int).SetBytes(c[:])
}

func (c Commitment) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Commitment) UnmarshalText(text []byte) error {
	parsed, err := ParseCommitment(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CommitmentFromBigInt encodes v, which must be a reduced field element.
func CommitmentFromBigInt(v *big.Int) (Commitment, error) {
	var c Commitment
	if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return c, fmt.Errorf("commitment %v is not a BN254 scalar", v)
	}
	v.FillBytes(c[:])
	return c, nil
}

// ParseCommitment accepts a 0x-prefixed hex string or a decimal string.
func ParseCommitment(s string) (Commitment, error) {
	s = strings.TrimSpace(s)
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return Commitment{}, fmt.Errorf("invalid commitment %q", s)
	}
	return CommitmentFromBigInt(v)
}
