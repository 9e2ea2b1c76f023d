// Package label implements the deterministic label PRF and commitment
// scheme described in spec.md section 4.1: labels are derived from a
// commitment via scrypt, and a VRF nonce is computed as the
// minimum-Blake3 label over a protocol-fixed prefix of the dataset.
//
// Grounded on the teacher's crypto/keystore.go (scrypt parameter
// plumbing) and consensus/lethe/lethe.go (deriving keys/material via a
// hash-based PRF); unlike the teacher's hand-rolled "scrypt-like"
// stand-in, label derivation here calls the real
// golang.org/x/crypto/scrypt implementation, since spec.md section 1
// explicitly treats scrypt as a primitive to consume, not reimplement.
package label

import (
	"encoding/binary"

	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/shared"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/scrypt"
)

var logger = log.Default().Module("label")

// VRFSampleCount is the protocol-fixed number of labels scanned for the
// VRF minimum (spec.md section 4.1: "the first 2^20 labels").
const VRFSampleCount = 1 << 20

// Commitment computes Blake3(identity || commitment_atx_id), the 32-byte
// seed for label generation and the VRF (spec.md section 3).
func Commitment(identity [shared.IdentitySize]byte, commitmentAtxID [32]byte) [shared.CommitmentSize]byte {
	h := blake3.New()
	h.Write(identity[:])
	h.Write(commitmentAtxID[:])
	var out [shared.CommitmentSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Params bundles the scrypt cost parameters used for every label
// derivation under a given commitment.
type Params struct {
	Commitment [shared.CommitmentSize]byte
	Scrypt     shared.ScryptParams
}

// At derives the label at the given global index: the first 16 bytes of
// scrypt(N, r, p; password=commitment, salt=LE64(index)).
//
// Any scrypt setup failure (e.g. an invalid cost parameter combination)
// is a Cryptographic error per spec.md section 7 and is returned
// wrapped in shared.ErrCryptographic rather than panicking; the hot
// path (Range) trusts Params.Scrypt was already validated once and
// does not re-check it per call.
func At(p Params, index uint64) ([shared.LabelSize]byte, error) {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], index)

	derived, err := scrypt.Key(p.Commitment[:], salt[:], p.Scrypt.N, p.Scrypt.R, p.Scrypt.P, shared.LabelSize)
	if err != nil {
		return [shared.LabelSize]byte{}, shared.NewCryptographicError("scrypt", err)
	}
	var out [shared.LabelSize]byte
	copy(out[:], derived)
	return out, nil
}

// Range derives labels [start, start+count) in order, calling fn for
// each one. It supports resuming at any global offset, since the
// dataset is checkpointed by offset (spec.md section 4.1): callers
// simply choose a non-zero start.
//
// fn receives the global index and the label bytes; the label is passed
// by value as a fixed-size array, so fn may keep it after the call.
func Range(p Params, start, count uint64, fn func(index uint64, lbl [shared.LabelSize]byte) error) error {
	for i := uint64(0); i < count; i++ {
		idx := start + i
		lbl, err := At(p, idx)
		if err != nil {
			logger.Error("label derivation failed", "index", idx, "err", err)
			return err
		}
		if err := fn(idx, lbl); err != nil {
			return err
		}
	}
	return nil
}

// VRFResult is the outcome of the VRF min-index scan (spec.md section
// 4.1): the global index of the minimum-digest label over the first
// VRFSampleCount labels, its label value, and the winning digest.
type VRFResult struct {
	Index  uint64
	Label  [shared.LabelSize]byte
	Digest [32]byte
}

// ScanVRF computes the VRF nonce: the label with minimum
// Blake3(commitment || LE64(index) || label_bytes) over the first
// VRFSampleCount labels. It must be computed during initialization and
// stored alongside the dataset (spec.md section 4.1); the PoET phase
// that later consumes it is out of scope here.
//
// numLabels may be smaller than VRFSampleCount for tiny test datasets;
// in that case the scan covers the whole dataset, matching the
// intent of the sample count (a protocol-fixed upper bound, not a
// hard requirement that the dataset be that large).
func ScanVRF(p Params, numLabels uint64) (VRFResult, error) {
	limit := uint64(VRFSampleCount)
	if numLabels < limit {
		limit = numLabels
	}

	var best VRFResult
	haveBest := false

	err := Range(p, 0, limit, func(index uint64, lbl [shared.LabelSize]byte) error {
		digest := vrfDigest(p.Commitment, index, lbl)
		if !haveBest || lessDigest(digest, best.Digest) {
			best = VRFResult{Index: index, Label: lbl, Digest: digest}
			haveBest = true
		}
		return nil
	})
	if err != nil {
		return VRFResult{}, err
	}
	return best, nil
}

func vrfDigest(commitment [shared.CommitmentSize]byte, index uint64, lbl [shared.LabelSize]byte) [32]byte {
	h := blake3.New()
	h.Write(commitment[:])
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], index)
	h.Write(idxBuf[:])
	h.Write(lbl[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// lessDigest compares two 32-byte digests as big-endian unsigned
// integers (byte-lexicographic order is equivalent and cheaper).
func lessDigest(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
