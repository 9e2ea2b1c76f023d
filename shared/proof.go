package shared

// Proof is the output of the proving pipeline (spec.md section 3/4.4):
// a PoW nonce, the chosen label-nonce within its 16-wide group, and the
// k2 qualifying label indices. Indices are kept decoded (as uint64) in
// memory; wire encoding/decoding (packed-bit, little-endian) lives in
// the proving and verifying packages since it depends on NumLabels.
type Proof struct {
	PowNonce uint64
	Nonce    uint32
	Indices  []uint64
}

// NonceGroup returns the 16-wide nonce group this proof's Nonce belongs
// to (spec.md section 4.4/4.5).
func (p Proof) NonceGroup() uint8 {
	return uint8(p.Nonce / NonceGroupSize)
}

// Metadata bundles the fields needed to reconstruct labels and replay
// the cipher during verification (spec.md section 3).
type Metadata struct {
	NodeID           [IdentitySize]byte
	CommitmentAtxID  [32]byte
	Challenge        [ChallengeSize]byte
	NumUnits         uint32
	LabelsPerUnit    uint64
}

// NumLabels returns the total dataset length implied by this metadata.
func (m Metadata) NumLabels() uint64 {
	return NumLabels(m.NumUnits, m.LabelsPerUnit)
}
