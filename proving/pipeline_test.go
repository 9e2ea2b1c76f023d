package proving

import (
	"context"
	"testing"
	"time"

	"github.com/spacemeshos/post-rs/dataset"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/spacemeshos/post-rs/shared"
)

func TestBitsForIndex(t *testing.T) {
	cases := []struct {
		numLabels uint64
		want      int
	}{
		{1, 1},
		{2, 1},
		{3, 2},
		{256, 8},
		{257, 9},
	}
	for _, c := range cases {
		if got := BitsForIndex(c.numLabels); got != c.want {
			t.Fatalf("BitsForIndex(%d) = %d, want %d", c.numLabels, got, c.want)
		}
	}
}

func TestEncodeDecodeIndicesRoundTrip(t *testing.T) {
	indices := []uint64{0, 1, 5, 17, 255}
	bitsPerIndex := BitsForIndex(256)

	encoded := EncodeIndices(indices, bitsPerIndex)
	decoded, err := DecodeIndices(encoded, bitsPerIndex, len(indices))
	if err != nil {
		t.Fatalf("DecodeIndices: %v", err)
	}
	for i := range indices {
		if decoded[i] != indices[i] {
			t.Fatalf("index %d: got %d, want %d", i, decoded[i], indices[i])
		}
	}
}

func TestDecodeIndicesRejectsShortBuffer(t *testing.T) {
	_, err := DecodeIndices([]byte{0x00}, 32, 10)
	if err == nil {
		t.Fatalf("expected error for short buffer")
	}
}

func TestDifficultyClampsWhenK1ExceedsLabels(t *testing.T) {
	d := Difficulty(1000, 10)
	if d != ^uint64(0) {
		t.Fatalf("expected max difficulty clamp, got %d", d)
	}
}

// TestTinyDeterministicProveIndicesInRange builds a tiny on-disk dataset
// with generous proving parameters (spec.md section 8 scenario 1) and
// checks that the pipeline finds a proof whose indices all lie within
// range.
func TestTinyDeterministicProveIndicesInRange(t *testing.T) {
	dir := t.TempDir()
	meta := dataset.Metadata{
		NumUnits:      1,
		LabelsPerUnit: 64,
	}

	init, err := dataset.NewInitializer(dir, meta, testScryptParams(), dataset.DefaultMaxFileSize)
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

	var maxDifficulty [shared.ChallengeSize]byte
	for i := range maxDifficulty {
		maxDifficulty[i] = 0xff
	}
	cfg := Config{
		Post: shared.PostConfig{
			K1:            40, // generous: most labels qualify out of 64
			K2:            2,
			PowDifficulty: maxDifficulty, // every hash qualifies: keep the PoW search instant
		},
		Challenge:      [shared.ChallengeSize]byte{0x01},
		Identity:       loaded.NodeID,
		NumUnits:       loaded.NumUnits,
		Threads:        2,
		MaxNonceGroups: 4,
		PoWMode:        randomx.ModeLight,
	}
	pipeline := NewPipeline(reader, cfg)
	defer pipeline.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proof, err := pipeline.Prove(ctx)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(proof.Indices) != int(cfg.Post.K2) {
		t.Fatalf("expected %d indices, got %d", cfg.Post.K2, len(proof.Indices))
	}
	numLabels := loaded.NumLabels()
	for _, idx := range proof.Indices {
		if idx >= numLabels {
			t.Fatalf("index %d out of range [0,%d)", idx, numLabels)
		}
	}
	for i := 1; i < len(proof.Indices); i++ {
		if proof.Indices[i] <= proof.Indices[i-1] {
			t.Fatalf("indices not strictly ascending: %v", proof.Indices)
		}
	}
}

func TestProveReturnsInsufficientLabelsWhenDifficultyImpossible(t *testing.T) {
	dir := t.TempDir()
	meta := dataset.Metadata{
		NumUnits:      1,
		LabelsPerUnit: 16,
	}
	init, err := dataset.NewInitializer(dir, meta, testScryptParams(), dataset.DefaultMaxFileSize)
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

	cfg := Config{
		Post: shared.PostConfig{
			K1: 0, // nothing can ever qualify
			K2: 5,
		},
		Challenge:      [shared.ChallengeSize]byte{0x02},
		Identity:       loaded.NodeID,
		NumUnits:       loaded.NumUnits,
		Threads:        1,
		MaxNonceGroups: 1,
		PoWMode:        randomx.ModeLight,
	}
	pipeline := NewPipeline(reader, cfg)
	defer pipeline.Close()

	_, err = pipeline.Prove(context.Background())
	if err != shared.ErrInsufficientLabels {
		t.Fatalf("expected ErrInsufficientLabels, got %v", err)
	}
}

func testScryptParams() shared.ScryptParams {
	return shared.ScryptParams{N: 16, R: 1, P: 1}
}
