// Package verifying implements the stateless proof checker described in
// spec.md section 4.6: given a Proof and its Metadata it recomputes the
// commitment, validates structure, recomputes a k3-subsample of the
// claimed labels and rechecks the per-nonce difficulty relation, and
// rechecks the K2 PoW -- all without reading the dataset from disk.
package verifying

import (
	"encoding/binary"

	"github.com/spacemeshos/post-rs/cipher"
	"github.com/spacemeshos/post-rs/label"
	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/proving"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/spacemeshos/post-rs/shared"
	"github.com/zeebo/blake3"
)

var logger = log.Default().Module("verifying")

// DecodeProof rebuilds a shared.Proof from its wire form: packed-bit
// little-endian indices (spec.md section 3), decoded with
// ceil(log2(numLabels)) bits per index and exactly k2 of them.
func DecodeProof(nonce uint32, powNonce uint64, encodedIndices []byte, numLabels uint64, k2 uint32) (shared.Proof, error) {
	bitsPerIndex := proving.BitsForIndex(numLabels)
	indices, err := proving.DecodeIndices(encodedIndices, bitsPerIndex, int(k2))
	if err != nil {
		return shared.Proof{}, err
	}
	return shared.Proof{PowNonce: powNonce, Nonce: nonce, Indices: indices}, nil
}

// Verify checks proof against meta under post and initCfg (spec.md
// section 4.6), using pow to recheck the K2 PoW. It returns nil if the
// proof is valid, or a *shared.ProofInvalidError (wrapping
// shared.ErrProofInvalid) describing the first failing check.
func Verify(proof shared.Proof, meta shared.Metadata, post shared.PostConfig, initCfg shared.InitConfig, pow *randomx.Engine) error {
	if meta.NumUnits < initCfg.MinNumUnits || meta.NumUnits > initCfg.MaxNumUnits {
		return shared.NewProofInvalid(shared.InvalidStructure,
			"num_units %d out of bounds [%d,%d]", meta.NumUnits, initCfg.MinNumUnits, initCfg.MaxNumUnits)
	}
	if uint32(len(proof.Indices)) != post.K2 {
		return shared.NewProofInvalid(shared.InvalidStructure,
			"expected %d indices, got %d", post.K2, len(proof.Indices))
	}

	numLabels := meta.NumLabels()
	for i, idx := range proof.Indices {
		if idx >= numLabels {
			return shared.NewProofInvalid(shared.InvalidIndices,
				"index %d at position %d is >= num_labels %d", idx, i, numLabels)
		}
		if i > 0 && proof.Indices[i] <= proof.Indices[i-1] {
			return shared.NewProofInvalid(shared.InvalidIndices,
				"indices not strictly increasing at position %d", i)
		}
	}

	k3 := int(post.EffectiveK3())
	sampled := sampleSubset(meta.Challenge, len(proof.Indices), k3)

	commitment := label.Commitment(meta.NodeID, meta.CommitmentAtxID)
	params := label.Params{Commitment: commitment, Scrypt: initCfg.Scrypt}
	difficulty := proving.Difficulty(post.K1, numLabels)

	group := proof.NonceGroup()
	kernels, err := cipher.NonceGroupKernels(meta.Challenge, uint32(group)*shared.NonceGroupSize)
	if err != nil {
		return shared.NewProofInvalid(shared.InvalidLabels, "cipher kernel setup failed: %v", err)
	}
	kernel := kernels[proof.Nonce%shared.NonceGroupSize]

	for _, pos := range sampled {
		idx := proof.Indices[pos]
		lbl, err := label.At(params, idx)
		if err != nil {
			return shared.NewProofInvalid(shared.InvalidLabels, "label %d recomputation failed: %v", idx, err)
		}
		batch := kernel.Process(lbl[:])
		if cipher.DifficultyValue(batch.C0[0]) >= difficulty {
			return shared.NewProofInvalid(shared.InvalidLabels,
				"label at index %d does not satisfy the difficulty threshold", idx)
		}
	}

	key := randomx.Key(meta.Challenge, meta.NodeID, group, meta.NumUnits)
	ok, err := pow.VerifyNonce(key, post.PowDifficulty, proof.PowNonce)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NewProofInvalid(shared.InvalidPow,
			"pow_nonce %d does not satisfy pow_difficulty for group %d", proof.PowNonce, group)
	}

	logger.Debug("proof verified", "num_units", meta.NumUnits, "sampled", len(sampled))
	return nil
}

// sampleSubset deterministically selects k3 of the n index positions
// [0,n), seeded by challenge (spec.md section 4.6: "seeded by the
// challenge to make verification deterministic per proof"). The
// sequence of draws is a Blake3-counter-keyed partial Fisher-Yates
// shuffle: the spec leaves the exact subsampling PRF unspecified (an
// open question, section 9), so this construction is pinned here --
// see DESIGN.md.
//
// If k3 >= n, every position is selected (full verification).
func sampleSubset(challenge [shared.ChallengeSize]byte, n, k3 int) []int {
	if k3 >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k3; i++ {
		span := uint64(n - i)
		j := i + int(drawUint64(challenge, uint32(i))%span)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k3]
}

func drawUint64(challenge [shared.ChallengeSize]byte, counter uint32) uint64 {
	h := blake3.New()
	h.Write(challenge[:])
	h.Write([]byte("post/verify/subsample"))
	var cb [4]byte
	binary.LittleEndian.PutUint32(cb[:], counter)
	h.Write(cb[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
