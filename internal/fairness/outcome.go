package fairness

import "fmt"

// Locate splits a bit index into the word it falls in and the bit offset inside that word.
func Locate(bitIndex int) (word, offset int, err error) {
	if bitIndex < 0 || bitIndex >= IndexSpace {
		return 0, 0, fmt.Errorf("bit index %d outside [0, %d]", bitIndex, IndexSpace-1)
	}
	return bitIndex / WordBits, bitIndex % WordBits, nil
}

// ExtractBit returns bit offset of w, counting from the least significant bit.
func ExtractBit(w uint32, offset int) uint8 {
	return uint8((w >> uint(offset)) & 1)
}

// Flip is the result of combining both parties' bits at one index.
type Flip struct {
	BitIndex  int
	PlayerBit uint8
	HouseBit  uint8
	Outcome   uint8
}

// Resolve computes natively what Circuit proves: the XOR of the two bits at bitIndex.
func Resolve(player, house Preimage, bitIndex int) (Flip, error) {
	pb, err := player.Bit(bitIndex)
	if err != nil {
		return Flip{}, err
	}
	hb, err := house.Bit(bitIndex)
	if err != nil {
		return Flip{}, err
	}
	return Flip{
		BitIndex:  bitIndex,
		PlayerBit: pb,
		HouseBit:  hb,
		Outcome:   pb ^ hb,
	}, nil
}
