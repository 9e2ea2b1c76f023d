//go:build !post_randomx_cgo

package randomx

import (
	"github.com/zeebo/blake3"
)

// referenceVM is a deterministic, keyed-hash stand-in for the real
// RandomX VM, used when no cgo-backed VM is wired in (see randomx.go's
// package doc). It is NOT RandomX and must never be used to validate
// solutions against a real RandomX-speaking peer; it exists so every
// other component in this repo (engine scheduling, the K2-PoW HTTP
// service, the verifier) is fully exercisable and testable end to end.
type referenceVM struct {
	key [32]byte
}

// NewVM constructs a VM for the given mode and key. The reference
// backend ignores Mode (both modes are byte-identical here, matching
// the real RandomX requirement that Fast and Light agree), and
// construction never fails.
func NewVM(mode Mode, key [32]byte) (VM, error) {
	return &referenceVM{key: key}, nil
}

func (v *referenceVM) Hash(input []byte) [32]byte {
	h := blake3.New()
	h.Write(v.key[:])
	h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (v *referenceVM) Close() error { return nil }
