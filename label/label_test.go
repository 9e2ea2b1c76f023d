package label

import (
	"testing"

	"github.com/spacemeshos/post-rs/shared"
)

func testParams() Params {
	var commitment [shared.CommitmentSize]byte
	for i := range commitment {
		commitment[i] = byte(i)
	}
	return Params{
		Commitment: commitment,
		// Small N keeps the test fast; still a power of two.
		Scrypt: shared.ScryptParams{N: 16, R: 1, P: 1},
	}
}

func TestAtIsDeterministic(t *testing.T) {
	p := testParams()

	a, err := At(p, 42)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	b, err := At(p, 42)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if a != b {
		t.Fatalf("label(42) not deterministic: %x != %x", a, b)
	}
}

func TestAtDiffersByIndex(t *testing.T) {
	p := testParams()

	a, err := At(p, 0)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	b, err := At(p, 1)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if a == b {
		t.Fatalf("labels at different indices collided: %x", a)
	}
}

func TestRangeResumable(t *testing.T) {
	p := testParams()

	// Derive [0,10) in one shot.
	var full []([shared.LabelSize]byte)
	if err := Range(p, 0, 10, func(_ uint64, lbl [shared.LabelSize]byte) error {
		full = append(full, lbl)
		return nil
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}

	// Derive [0,5) then resume at [5,10); must match the full run.
	var resumed []([shared.LabelSize]byte)
	if err := Range(p, 0, 5, func(_ uint64, lbl [shared.LabelSize]byte) error {
		resumed = append(resumed, lbl)
		return nil
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}
	if err := Range(p, 5, 5, func(_ uint64, lbl [shared.LabelSize]byte) error {
		resumed = append(resumed, lbl)
		return nil
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}

	if len(resumed) != len(full) {
		t.Fatalf("length mismatch: %d != %d", len(resumed), len(full))
	}
	for i := range full {
		if full[i] != resumed[i] {
			t.Fatalf("label %d differs between full scan and resumed scan", i)
		}
	}
}

func TestScanVRFDeterministic(t *testing.T) {
	p := testParams()

	r1, err := ScanVRF(p, 64)
	if err != nil {
		t.Fatalf("ScanVRF: %v", err)
	}
	r2, err := ScanVRF(p, 64)
	if err != nil {
		t.Fatalf("ScanVRF: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("ScanVRF not deterministic: %+v != %+v", r1, r2)
	}
	if r1.Index >= 64 {
		t.Fatalf("ScanVRF returned out-of-range index %d", r1.Index)
	}
}

func TestScanVRFSmallerThanSampleCount(t *testing.T) {
	p := testParams()

	// numLabels well below VRFSampleCount must still scan the whole
	// (small) dataset rather than failing or hanging.
	r, err := ScanVRF(p, 8)
	if err != nil {
		t.Fatalf("ScanVRF: %v", err)
	}
	if r.Index >= 8 {
		t.Fatalf("ScanVRF index %d out of bounds for 8-label dataset", r.Index)
	}
}
