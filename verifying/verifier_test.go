package verifying

import (
	"context"
	"testing"
	"time"

	"github.com/spacemeshos/post-rs/dataset"
	"github.com/spacemeshos/post-rs/proving"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/spacemeshos/post-rs/shared"
)

func maxDifficulty() [shared.ChallengeSize]byte {
	var d [shared.ChallengeSize]byte
	for i := range d {
		d[i] = 0xff
	}
	return d
}

// buildTinyProof initializes a tiny dataset and runs the proving
// pipeline, returning everything Verify needs (spec.md section 8
// scenario 1, scaled down for a fast test).
func buildTinyProof(t *testing.T) (shared.Proof, shared.Metadata, shared.PostConfig, shared.InitConfig) {
	t.Helper()
	dir := t.TempDir()

	meta := dataset.Metadata{
		NumUnits:      16,
		LabelsPerUnit: 16,
	}
	init, err := dataset.NewInitializer(dir, meta, shared.ScryptParams{N: 16, R: 1, P: 1}, dataset.DefaultMaxFileSize)
	if err != nil {
		t.Fatalf("NewInitializer: %v", err)
	}
	if err := init.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	loaded, err := dataset.LoadMetadata(dir)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	reader, err := dataset.Open(dir, loaded, dataset.DefaultChunkSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	post := shared.PostConfig{
		// K1/numLabels ~= 1.5%: a flipped, out-of-sieve index is very
		// unlikely to accidentally satisfy the difficulty relation,
		// keeping TestVerifyDetectsBitFlip deterministic in practice.
		K1:            4,
		K2:            3,
		PowDifficulty: maxDifficulty(),
	}
	initCfg := shared.InitConfig{
		MinNumUnits:   1,
		MaxNumUnits:   32,
		LabelsPerUnit: 16,
		Scrypt:        shared.ScryptParams{N: 16, R: 1, P: 1},
	}

	pcfg := proving.Config{
		Post:           post,
		Challenge:      [shared.ChallengeSize]byte{0x03},
		Identity:       loaded.NodeID,
		NumUnits:       loaded.NumUnits,
		Threads:        2,
		MaxNonceGroups: 8,
		PoWMode:        randomx.ModeLight,
	}
	pipeline := proving.NewPipeline(reader, pcfg)
	defer pipeline.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	proof, err := pipeline.Prove(ctx)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	vmeta := shared.Metadata{
		NodeID:          loaded.NodeID,
		CommitmentAtxID: loaded.CommitmentAtxID,
		Challenge:       pcfg.Challenge,
		NumUnits:        loaded.NumUnits,
		LabelsPerUnit:   loaded.LabelsPerUnit,
	}
	return *proof, vmeta, post, initCfg
}

func TestVerifyAcceptsValidProof(t *testing.T) {
	proof, meta, post, initCfg := buildTinyProof(t)

	pow := randomx.NewEngine(randomx.ModeLight)
	defer pow.Close()

	if err := Verify(proof, meta, post, initCfg, pow); err != nil {
		t.Fatalf("Verify: expected valid proof, got %v", err)
	}
}

// TestVerifyDetectsBitFlip matches spec.md section 8 scenario 2: flipping
// the lowest bit of the first index must make verification fail with
// InvalidLabels (or InvalidIndices, if the flip breaks monotonic order).
func TestVerifyDetectsBitFlip(t *testing.T) {
	proof, meta, post, initCfg := buildTinyProof(t)
	proof.Indices[0] ^= 1

	pow := randomx.NewEngine(randomx.ModeLight)
	defer pow.Close()

	err := Verify(proof, meta, post, initCfg, pow)
	if err == nil {
		t.Fatalf("expected verification failure after bit flip")
	}
	var invalid *shared.ProofInvalidError
	if !asProofInvalid(err, &invalid) {
		t.Fatalf("expected a ProofInvalidError, got %v", err)
	}
	if invalid.Kind != shared.InvalidLabels && invalid.Kind != shared.InvalidIndices {
		t.Fatalf("expected InvalidLabels or InvalidIndices, got %v", invalid.Kind)
	}
}

func TestVerifyRejectsNumUnitsBelowMinimum(t *testing.T) {
	proof, meta, post, initCfg := buildTinyProof(t)
	initCfg.MinNumUnits = meta.NumUnits + 1

	pow := randomx.NewEngine(randomx.ModeLight)
	defer pow.Close()

	err := Verify(proof, meta, post, initCfg, pow)
	var invalid *shared.ProofInvalidError
	if !asProofInvalid(err, &invalid) || invalid.Kind != shared.InvalidStructure {
		t.Fatalf("expected InvalidStructure, got %v", err)
	}
}

func TestVerifyRejectsWrongIndexCount(t *testing.T) {
	proof, meta, post, initCfg := buildTinyProof(t)
	proof.Indices = proof.Indices[:len(proof.Indices)-1]

	pow := randomx.NewEngine(randomx.ModeLight)
	defer pow.Close()

	err := Verify(proof, meta, post, initCfg, pow)
	var invalid *shared.ProofInvalidError
	if !asProofInvalid(err, &invalid) || invalid.Kind != shared.InvalidStructure {
		t.Fatalf("expected InvalidStructure, got %v", err)
	}
}

func TestSampleSubsetFullWhenK3CoversAll(t *testing.T) {
	var challenge [shared.ChallengeSize]byte
	got := sampleSubset(challenge, 5, 5)
	if len(got) != 5 {
		t.Fatalf("expected all 5 positions, got %d", len(got))
	}
}

func TestSampleSubsetDeterministic(t *testing.T) {
	var challenge [shared.ChallengeSize]byte
	challenge[0] = 0x7
	a := sampleSubset(challenge, 37, 10)
	b := sampleSubset(challenge, 37, 10)
	if len(a) != len(b) {
		t.Fatalf("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sampleSubset not deterministic at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func asProofInvalid(err error, target **shared.ProofInvalidError) bool {
	pie, ok := err.(*shared.ProofInvalidError)
	if !ok {
		return false
	}
	*target = pie
	return true
}
