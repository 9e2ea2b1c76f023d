package dataset

import (
	"encoding/json"
	"os"

	"github.com/spacemeshos/post-rs/shared"
)

// MetadataFileName is the fixed name of the persisted metadata file
// (spec.md section 6.4).
const MetadataFileName = "postdata_metadata.json"

// Metadata is the JSON-persisted sidecar described in spec.md section
// 6.4: identity, commitment anchor, sizing, the VRF nonce computed
// during initialization, and the resume checkpoint.
type Metadata struct {
	NodeID          [shared.IdentitySize]byte `json:"node_id"`
	CommitmentAtxID [32]byte                  `json:"commitment_atx_id"`
	NumUnits        uint32                    `json:"num_units"`
	LabelsPerUnit   uint64                    `json:"labels_per_unit"`
	MaxFileSize     uint64                    `json:"max_file_size"`
	// Nonce is the VRF min-index result computed during initialization
	// (spec.md section 4.1).
	Nonce uint64 `json:"nonce"`
	// LastPosition is the resume checkpoint: the global label index of
	// the next label to derive (spec.md section 4.1/4.2).
	LastPosition uint64 `json:"last_position"`
}

// NumLabels returns num_units * labels_per_unit.
func (m Metadata) NumLabels() uint64 {
	return shared.NumLabels(m.NumUnits, m.LabelsPerUnit)
}

// LoadMetadata reads and parses the metadata file from dir.
func LoadMetadata(dir string) (Metadata, error) {
	path := dir + "/" + MetadataFileName
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, shared.NewIOError("read", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, shared.NewIOError("unmarshal", path, err)
	}
	return m, nil
}

// Save writes the metadata file to dir, overwriting any existing file.
// It writes to a temporary file first and renames into place so a
// crash mid-write cannot leave a corrupt metadata file behind.
func (m Metadata) Save(dir string) error {
	path := dir + "/" + MetadataFileName
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return shared.NewIOError("marshal", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return shared.NewIOError("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return shared.NewIOError("rename", path, err)
	}
	return nil
}
