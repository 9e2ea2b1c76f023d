package randomx

import (
	"encoding/binary"

	"github.com/spacemeshos/post-rs/shared"
	"github.com/zeebo/blake3"
)

// deriveKey is shared by every VM backend (reference and cgo), so key
// derivation itself never depends on which RandomX implementation is
// linked in.
func deriveKey(challenge [shared.ChallengeSize]byte, identity [shared.IdentitySize]byte, group uint8, numUnits uint32) [32]byte {
	h := blake3.New()
	h.Write(challenge[:])
	h.Write(identity[:])
	h.Write([]byte{group})
	var nu [4]byte
	binary.LittleEndian.PutUint32(nu[:], numUnits)
	h.Write(nu[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
