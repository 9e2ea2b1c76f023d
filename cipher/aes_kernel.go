// Package cipher implements the AES-128 batched PRF kernel described in
// spec.md section 4.3: for each label-nonce, two AES-128 keys are
// derived from the challenge and the nonce, and every label in a chunk
// is encrypted under both keys to produce the difficulty-test stream
// (C0) and the indexing/collision-avoidance stream (C1). A nonce group
// (16 consecutive nonces, spec.md's glossary) is processed by running
// the kernel for each of its 16 nonces over the same label chunk.
//
// Grounded on the teacher's use of crypto/aes + crypto/cipher in
// p2p/rlpx.go and consensus/lethe/lethe.go. AES-128 is named a
// black-box primitive by spec.md section 1, and crypto/aes already
// dispatches to AES-NI / ARMv8 crypto extensions transparently on
// supported platforms, so there is no third-party AES library to
// prefer here -- see DESIGN.md.
package cipher

import (
	gocipher "crypto/aes"
	"encoding/binary"

	"github.com/spacemeshos/post-rs/shared"
	"github.com/zeebo/blake3"
)

// NonceKeys holds the two AES-128 keys derived for a single label-nonce.
type NonceKeys struct {
	K0 [16]byte // difficulty-test key
	K1 [16]byte // indexing / collision-avoidance key
}

// DeriveNonceKeys derives K0 and K1 for label-nonce n from the
// challenge (spec.md section 4.3). The derivation is a domain-separated
// Blake3 of (challenge || domain-tag || nonce), truncated to 16 bytes;
// any deterministic PRF would satisfy the spec here, and Blake3 is
// already a black-box primitive this codebase consumes elsewhere (the
// label PRF's VRF scan, the K2-PoW key derivation).
func DeriveNonceKeys(challenge [shared.ChallengeSize]byte, nonce uint32) NonceKeys {
	return NonceKeys{
		K0: deriveKey(challenge, nonce, "post/aes/k0"),
		K1: deriveKey(challenge, nonce, "post/aes/k1"),
	}
}

func deriveKey(challenge [shared.ChallengeSize]byte, nonce uint32, domain string) [16]byte {
	h := blake3.New()
	h.Write(challenge[:])
	h.Write([]byte(domain))
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], nonce)
	h.Write(nb[:])
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Kernel processes fixed-size label batches through a pair of AES-128
// ciphers, producing the C0/C1 streams for a single label-nonce.
type Kernel struct {
	encK0 gocipher.Block
	encK1 gocipher.Block
}

// NewKernel constructs a Kernel for the given nonce keys. AES-128 key
// setup can only fail on a malformed (wrong-length) key, which cannot
// happen here since NonceKeys.K0/K1 are fixed-size arrays; the error is
// still surfaced as a shared.CryptographicError defensively, matching
// spec.md section 7's classification of cipher setup failures as
// Cryptographic.
func NewKernel(keys NonceKeys) (*Kernel, error) {
	b0, err := gocipher.NewCipher(keys.K0[:])
	if err != nil {
		return nil, shared.NewCryptographicError("aes.NewCipher(k0)", err)
	}
	b1, err := gocipher.NewCipher(keys.K1[:])
	if err != nil {
		return nil, shared.NewCryptographicError("aes.NewCipher(k1)", err)
	}
	return &Kernel{encK0: b0, encK1: b1}, nil
}

// Batch is the per-label output of processing one chunk of labels: for
// label i, C0[i] = AES_ENC(K0, L[i]) and C1[i] = AES_ENC(K1, L[i]).
type Batch struct {
	C0 [][shared.LabelSize]byte
	C1 [][shared.LabelSize]byte
}

// Process runs the kernel over a chunk of labels (spec.md section 4.3),
// processing AESBatchLabels (8) labels per internal pass for
// throughput; output is bit-identical regardless of batch size, so
// callers may pass any number of whole labels, including counts not a
// multiple of 8 for a dataset's final, possibly-short chunk.
//
// labels must have length a multiple of shared.LabelSize; this is
// guaranteed by dataset.Reader, whose chunks are label-aligned.
func (k *Kernel) Process(labels []byte) Batch {
	n := len(labels) / shared.LabelSize
	out := Batch{
		C0: make([][shared.LabelSize]byte, n),
		C1: make([][shared.LabelSize]byte, n),
	}
	for base := 0; base < n; base += shared.AESBatchLabels {
		end := base + shared.AESBatchLabels
		if end > n {
			end = n
		}
		for i := base; i < end; i++ {
			l := labels[i*shared.LabelSize : (i+1)*shared.LabelSize]
			k.encK0.Encrypt(out.C0[i][:], l)
			k.encK1.Encrypt(out.C1[i][:], l)
		}
	}
	return out
}

// NonceGroupKernels builds one Kernel per nonce in the 16-wide group
// starting at groupStart (spec.md section 4.3: "Apply the AES kernel
// for a batch of 16 nonces").
func NonceGroupKernels(challenge [shared.ChallengeSize]byte, groupStart uint32) ([shared.NonceGroupSize]*Kernel, error) {
	var kernels [shared.NonceGroupSize]*Kernel
	for i := 0; i < shared.NonceGroupSize; i++ {
		keys := DeriveNonceKeys(challenge, groupStart+uint32(i))
		k, err := NewKernel(keys)
		if err != nil {
			return kernels, err
		}
		kernels[i] = k
	}
	return kernels, nil
}

// DifficultyValue extracts the little-endian u64 formed from the first
// 8 bytes of a C0 output, the quantity compared against D_nonce
// (spec.md section 4.4).
func DifficultyValue(c0 [shared.LabelSize]byte) uint64 {
	return binary.LittleEndian.Uint64(c0[:8])
}
