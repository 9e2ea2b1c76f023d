// Package randomx implements the K2 PoW Engine described in spec.md
// section 4.5: a RandomX-keyed proof-of-work search over a nonce
// group, used both to gate a proving pipeline's chosen nonce group and
// to let the verifier recheck a claimed solution in constant time.
//
// RandomX itself is treated as a black-box cryptographic primitive
// (spec.md section 1 Non-goals: "providing a cryptographic library").
// The real RandomX core (github.com/tevador/RandomX, the same C/C++
// library Monero and spacemeshos/post-rs's own randomx-rs bindings
// link against) is accessed through a small VM interface; a cgo
// binding to that library (randomx_cgo.go, build-tagged `post_randomx_cgo`)
// is the intended production backend, following the same
// vendor-C-library-via-cgo shape the teacher repo uses for
// github.com/supranational/blst. Because no cgo toolchain or vendored
// librandomx is available in this environment, a deterministic
// reference VM (reference.go) is wired in by default so the engine,
// service and verifier are fully exercisable without it; swapping in
// the cgo VM changes no call site. See DESIGN.md.
package randomx

import "github.com/spacemeshos/post-rs/shared"

// Mode selects a RandomX VM's memory/throughput trade-off (spec.md
// section 4.5): Fast uses a ~2 GiB dataset for roughly 10x the
// throughput of Light's ~256 MiB cache-only mode. Both modes must
// produce bit-identical hashes for the same key and input.
type Mode int

const (
	ModeFast Mode = iota
	ModeLight
)

// VM computes RandomX(key, input) for a single, fixed key. Callers
// reuse a VM across many inputs (nonces) to amortize key setup, and
// construct a new one only when the key changes (spec.md section 4.5,
// section 9's Idle/Running/Done state machine).
type VM interface {
	// Hash computes the 32-byte RandomX digest of input under the key
	// this VM was constructed with.
	Hash(input []byte) [32]byte
	// Close releases the VM's resources (dataset/cache memory).
	Close() error
}

// Key derives the RandomX key for a nonce group (spec.md section 4.5):
// Blake3(challenge || identity || group || num_units).
func Key(challenge [shared.ChallengeSize]byte, identity [shared.IdentitySize]byte, group uint8, numUnits uint32) [32]byte {
	return deriveKey(challenge, identity, group, numUnits)
}

// Less reports whether hash, interpreted as a big-endian 256-bit
// integer, is strictly less than difficulty (spec.md section 4.5: "big
// endian on 32 bytes").
func Less(hash, difficulty [32]byte) bool {
	for i := range hash {
		if hash[i] != difficulty[i] {
			return hash[i] < difficulty[i]
		}
	}
	return false
}
