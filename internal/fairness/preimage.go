package fairness

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Preimage geometry: 16 words of 32 bits give 512 addressable bits, so an index takes 9 bits, the
// low 5 of which select the bit inside a word.
const (
	WordCount  = 16
	WordBits   = 32
	IndexSpace = WordCount * WordBits
	IndexBits  = 9

	offsetBits = 5
)

// Preimage is a party's 512-bit secret.
type Preimage [WordCount]uint32

// NewPreimage draws a preimage from crypto/rand.
func NewPreimage() (Preimage, error) {
	var buf [WordCount * 4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Preimage{}, fmt.Errorf("read randomness: %w", err)
	}
	var p Preimage
	for i := range p {
		p[i] = binary.BigEndian.Uint32(buf[i*4:])
	}
	return p, nil
}

// Bit returns the bit of p at bitIndex.
func (p Preimage) Bit(bitIndex int) (uint8, error) {
	word, offset, err := Locate(bitIndex)
	if err != nil {
		return 0, err
	}
	return ExtractBit(p[word], offset), nil
}

// PreimageFromUint64s converts decoded JSON numbers into a preimage, rejecting words that overflow.
func PreimageFromUint64s(words []uint64) (Preimage, error) {
	var p Preimage
	if len(words) != WordCount {
		return p, fmt.Errorf("preimage must have %d words, got %d", WordCount, len(words))
	}
	for i, w := range words {
		if w > 0xFFFFFFFF {
			return p, fmt.Errorf("preimage word %d out of range: %d", i, w)
		}
		p[i] = uint32(w)
	}
	return p, nil
}
