package fairness

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/math/bits"
	"github.com/consensys/gnark/std/selector"
)

// Circuit proves that Outcome is the XOR of the bits at BitIndex in two committed preimages.
//
// Public inputs are ordered PlayerCommit, HouseCommit, BitIndex, Outcome; PublicSignals follows
// the same order.
type Circuit struct {
	// Private inputs
	PlayerPreimage [WordCount]frontend.Variable
	HousePreimage  [WordCount]frontend.Variable

	// Public inputs
	PlayerCommit frontend.Variable `gnark:",public"`
	HouseCommit  frontend.Variable `gnark:",public"`
	BitIndex     frontend.Variable `gnark:",public"`
	Outcome      frontend.Variable `gnark:",public"`
}

func (c *Circuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Step 1: hash(playerPreimage) == playerCommit
	hasher.Write(c.PlayerPreimage[:]...)
	api.AssertIsEqual(hasher.Sum(), c.PlayerCommit)

	// Step 2: hash(housePreimage) == houseCommit
	hasher.Reset()
	hasher.Write(c.HousePreimage[:]...)
	api.AssertIsEqual(hasher.Sum(), c.HouseCommit)

	// Step 3: bitIndex < 512, low 5 bits are the offset, high 4 bits the word
	idx := bits.ToBinary(api, c.BitIndex, bits.WithNbDigits(IndexBits))
	offset := api.FromBinary(idx[:offsetBits]...)
	word := api.FromBinary(idx[offsetBits:]...)

	// Steps 4 and 5: select the bit from each preimage
	playerBit := selectBit(api, c.PlayerPreimage[:], word, offset)
	houseBit := selectBit(api, c.HousePreimage[:], word, offset)

	// Step 6: outcome == playerBit XOR houseBit
	api.AssertIsBoolean(c.Outcome)
	api.AssertIsEqual(c.Outcome, api.Xor(playerBit, houseBit))
	return nil
}

// selectBit range-checks every word to 32 bits and returns bit offset of words[word].
func selectBit(api frontend.API, words []frontend.Variable, word, offset frontend.Variable) frontend.Variable {
	for _, w := range words {
		bits.ToBinary(api, w, bits.WithNbDigits(WordBits))
	}
	selected := selector.Mux(api, word, words...)
	wordBits := bits.ToBinary(api, selected, bits.WithNbDigits(WordBits))
	return selector.Mux(api, offset, wordBits...)
}
