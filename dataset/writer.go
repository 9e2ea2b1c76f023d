// Package dataset implements the on-disk, offset-addressable label
// dataset described in spec.md sections 3, 4.1, 4.2 and 6.4: the
// Initializer writes the deterministic label sequence to one or more
// equally-sized files, and Reader streams it back in strict ascending
// order for the proving pipeline.
package dataset

import (
	"fmt"
	"os"

	"github.com/spacemeshos/post-rs/label"
	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/shared"
)

var logger = log.Default().Module("dataset")

// DefaultMaxFileSize is the default per-file cap (1 GiB), matching
// typical PoST deployments that split large datasets across several
// files for filesystem-friendliness.
const DefaultMaxFileSize = 1 << 30

// checkpointEvery controls how often (in labels) the Initializer
// flushes the metadata file's LastPosition during a run, bounding how
// much work must be redone after an interrupted initialization.
const checkpointEvery = 1 << 16

// FileName returns the on-disk name for dataset file index i
// (spec.md section 6.4: "postdata_<index>.bin").
func FileName(i int) string {
	return fmt.Sprintf("postdata_%d.bin", i)
}

// Layout describes how a dataset's labels are partitioned across files.
type Layout struct {
	NumFiles      int
	LabelsPerFile uint64
}

// PlanLayout computes a Layout for numLabels labels with file sizes
// capped at maxFileSize bytes (spec.md section 3: "partitioned into one
// or more on-disk files of equal integer size").
//
// numLabels must be evenly divisible by the resulting file count; this
// holds for all protocol-sized datasets (num_units * labels_per_unit is
// always chosen so that whole files result) and is treated as a
// Config error otherwise, rather than silently producing an uneven
// final file.
func PlanLayout(numLabels uint64, maxFileSize uint64) (Layout, error) {
	if numLabels == 0 {
		return Layout{}, shared.NewConfigError("num_labels", "must be positive")
	}
	if maxFileSize == 0 {
		maxFileSize = DefaultMaxFileSize
	}
	totalBytes := numLabels * shared.LabelSize
	labelsPerFileMax := maxFileSize / shared.LabelSize
	if labelsPerFileMax == 0 {
		return Layout{}, shared.NewConfigError("max_file_size", "too small to hold one label")
	}

	numFiles := (totalBytes + maxFileSize - 1) / maxFileSize
	if numFiles == 0 {
		numFiles = 1
	}
	if numLabels%numFiles != 0 {
		return Layout{}, shared.NewConfigError("num_labels",
			fmt.Sprintf("%d labels does not divide evenly into %d files", numLabels, numFiles))
	}
	return Layout{NumFiles: int(numFiles), LabelsPerFile: numLabels / numFiles}, nil
}

// Initializer derives the dataset labels and writes them to disk,
// resuming from metadata.LastPosition (spec.md section 4.1).
type Initializer struct {
	Dir    string
	Params label.Params
	Meta   Metadata
	Layout Layout

	openFileIdx int64
	openFile    *os.File
}

// NewInitializer validates the init configuration and metadata and
// returns a ready-to-run Initializer.
func NewInitializer(dir string, meta Metadata, scryptParams shared.ScryptParams, maxFileSize uint64) (*Initializer, error) {
	if err := scryptParams.Validate(); err != nil {
		return nil, err
	}
	numLabels := meta.NumLabels()
	layout, err := PlanLayout(numLabels, maxFileSize)
	if err != nil {
		return nil, err
	}
	commitment := labelCommitment(meta)
	return &Initializer{
		Dir:  dir,
		Params: label.Params{
			Commitment: commitment,
			Scrypt:     scryptParams,
		},
		Meta:        meta,
		Layout:      layout,
		openFileIdx: -1,
	}, nil
}

func labelCommitment(meta Metadata) [shared.CommitmentSize]byte {
	return label.Commitment(meta.NodeID, meta.CommitmentAtxID)
}

// Run derives and writes all remaining labels starting at
// Meta.LastPosition, checkpointing progress, then computes the VRF
// nonce and persists final metadata.
//
// Any I/O error aborts the run immediately; per spec.md section 4.1 a
// partially-written file is left truncated to the last completed
// 16-byte boundary so a subsequent Run (after fixing the underlying
// I/O problem) resumes deterministically from LastPosition.
func (ini *Initializer) Run() error {
	numLabels := ini.Meta.NumLabels()
	start := ini.Meta.LastPosition
	if start > numLabels {
		return shared.NewConfigError("last_position", "beyond dataset length")
	}

	sinceCheckpoint := uint64(0)
	err := label.Range(ini.Params, start, numLabels-start, func(idx uint64, lbl [shared.LabelSize]byte) error {
		if err := ini.writeLabel(idx, lbl); err != nil {
			return err
		}
		ini.Meta.LastPosition = idx + 1
		sinceCheckpoint++
		if sinceCheckpoint >= checkpointEvery {
			sinceCheckpoint = 0
			if err := ini.Meta.Save(ini.Dir); err != nil {
				return err
			}
		}
		return nil
	})
	ini.closeOpenFile()
	if err != nil {
		logger.Error("initialization aborted", "last_position", ini.Meta.LastPosition, "err", err)
		// Best-effort checkpoint of whatever progress was made so a
		// retry resumes as close as possible to the failure.
		_ = ini.Meta.Save(ini.Dir)
		// Cut the file holding LastPosition back to that label's offset so
		// no partly-written label is left behind.
		if pos := ini.Meta.LastPosition; pos < numLabels {
			path := ini.Dir + "/" + FileName(int(pos/ini.Layout.LabelsPerFile))
			_ = os.Truncate(path, int64(pos%ini.Layout.LabelsPerFile)*shared.LabelSize)
		}
		return err
	}

	vrf, err := label.ScanVRF(ini.Params, numLabels)
	if err != nil {
		return err
	}
	ini.Meta.Nonce = vrf.Index
	ini.Meta.MaxFileSize = ini.Layout.LabelsPerFile * shared.LabelSize
	if err := ini.Meta.Save(ini.Dir); err != nil {
		return err
	}
	logger.Info("initialization complete", "num_labels", numLabels, "vrf_index", vrf.Index)
	return nil
}

// writeLabel writes a single label at its global index into the
// correct file and offset. The target file handle is kept open across
// consecutive writes to the same file (labels are produced in strictly
// ascending order, so this amortizes to one open per file) and only
// swapped when a write crosses into the next file.
func (ini *Initializer) writeLabel(index uint64, lbl [shared.LabelSize]byte) error {
	fileIdx := int64(index / ini.Layout.LabelsPerFile)
	offsetInFile := (index % ini.Layout.LabelsPerFile) * shared.LabelSize

	if ini.openFile == nil || ini.openFileIdx != fileIdx {
		if err := ini.openFileForWrite(fileIdx); err != nil {
			return err
		}
	}

	if _, err := ini.openFile.WriteAt(lbl[:], int64(offsetInFile)); err != nil {
		path := ini.Dir + "/" + FileName(int(fileIdx))
		return shared.NewIOError("write", path, err)
	}
	return nil
}

func (ini *Initializer) openFileForWrite(fileIdx int64) error {
	ini.closeOpenFile()
	path := ini.Dir + "/" + FileName(int(fileIdx))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return shared.NewIOError("open", path, err)
	}
	ini.openFile = f
	ini.openFileIdx = fileIdx
	return nil
}

func (ini *Initializer) closeOpenFile() {
	if ini.openFile != nil {
		_ = ini.openFile.Close()
		ini.openFile = nil
		ini.openFileIdx = -1
	}
}
