// Package proving implements the Proving Pipeline described in spec.md
// section 4.4: a two-level sieve over the dataset that accumulates,
// per 16-wide nonce group, labels passing a per-nonce difficulty
// threshold until some nonce reaches k2, gated by a K2 PoW solution for
// that group.
package proving

import (
	"math/bits"

	"github.com/spacemeshos/post-rs/shared"
)

// BitsForIndex returns the minimum number of bits needed to represent
// values in [0, numLabels) -- ceil(log2(numLabels)) -- as used by the
// packed index encoding (spec.md section 3: "each encoded in the
// minimum number of bytes needed to represent num_labels - 1").
func BitsForIndex(numLabels uint64) int {
	if numLabels <= 1 {
		return 1
	}
	return bits.Len64(numLabels - 1)
}

// EncodeIndices packs indices into a little-endian bitstream using
// bitsPerIndex bits per value, concatenated and then byte-aligned
// (spec.md section 4.4). Indices are expected in ascending,
// first-encounter order; EncodeIndices does not itself sort or
// deduplicate.
func EncodeIndices(indices []uint64, bitsPerIndex int) []byte {
	totalBits := len(indices) * bitsPerIndex
	out := make([]byte, (totalBits+7)/8)

	bitPos := 0
	for _, idx := range indices {
		for b := 0; b < bitsPerIndex; b++ {
			if idx&(1<<uint(b)) != 0 {
				out[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
	return out
}

// DecodeIndices unpacks count indices of bitsPerIndex bits each from a
// byte-aligned little-endian bitstream (the inverse of EncodeIndices).
// It returns shared.ErrProofInvalid-wrapping error if data is too short
// to hold count indices.
func DecodeIndices(data []byte, bitsPerIndex int, count int) ([]uint64, error) {
	totalBits := count * bitsPerIndex
	if len(data)*8 < totalBits {
		return nil, shared.NewProofInvalid(shared.InvalidStructure,
			"index buffer too short: have %d bytes, need %d bits", len(data), totalBits)
	}

	out := make([]uint64, count)
	bitPos := 0
	for i := 0; i < count; i++ {
		var v uint64
		for b := 0; b < bitsPerIndex; b++ {
			byteVal := data[bitPos/8]
			if byteVal&(1<<uint(bitPos%8)) != 0 {
				v |= 1 << uint(b)
			}
			bitPos++
		}
		out[i] = v
	}
	return out, nil
}
