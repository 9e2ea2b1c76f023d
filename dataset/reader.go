package dataset

import (
	"io"
	"os"

	"github.com/spacemeshos/post-rs/shared"
)

// DefaultChunkSize is the default streaming chunk size (1 MiB,
// spec.md section 4.2), aligned to AESBatchBytes so the cipher kernel
// never sees a short batch except possibly the dataset's final chunk.
const DefaultChunkSize = 1 << 20

// Chunk is one streamed unit from the dataset: the global label index
// the chunk starts at, and its raw label bytes.
type Chunk struct {
	StartIndex uint64
	Data       []byte
}

// NumLabels returns how many whole labels this chunk contains.
func (c Chunk) NumLabels() int {
	return len(c.Data) / shared.LabelSize
}

// Reader presents the dataset as a lazy, strictly-ordered sequence of
// fixed-size chunks (spec.md section 4.2). It opens each file
// sequentially and never reorders chunks: proving relies on yielded
// order coinciding with increasing global label index.
type Reader struct {
	dir       string
	layout    Layout
	numLabels uint64
	chunkSize int

	openFileIdx int64
	openFile    *os.File
}

// Close releases any file handle the Reader is holding open. Safe to
// call multiple times.
func (r *Reader) Close() error {
	if r.openFile != nil {
		err := r.openFile.Close()
		r.openFile = nil
		r.openFileIdx = -1
		return err
	}
	return nil
}

// Open validates the on-disk dataset against meta and layout and
// returns a Reader. Per spec.md section 8, a dataset whose total size
// is not a multiple of AESBatchBytes (128 bytes) is rejected, as is any
// file whose size does not match the declared per-file label count.
func Open(dir string, meta Metadata, chunkSize int) (*Reader, error) {
	numLabels := meta.NumLabels()
	layout, err := PlanLayout(numLabels, meta.MaxFileSize)
	if err != nil {
		return nil, err
	}
	if (numLabels*shared.LabelSize)%shared.AESBatchBytes != 0 {
		return nil, shared.NewConfigError("num_labels", "dataset size is not a multiple of the AES batch size (128 bytes)")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	// Keep the chunk size aligned so only the dataset's final chunk can
	// be short.
	chunkSize -= chunkSize % shared.AESBatchBytes
	if chunkSize == 0 {
		chunkSize = shared.AESBatchBytes
	}

	wantFileBytes := layout.LabelsPerFile * shared.LabelSize
	for i := 0; i < layout.NumFiles; i++ {
		path := dir + "/" + FileName(i)
		info, err := os.Stat(path)
		if err != nil {
			return nil, shared.NewIOError("stat", path, err)
		}
		if uint64(info.Size()) != wantFileBytes {
			return nil, shared.NewConfigError("dataset_file_size",
				"file "+path+" does not match the declared per-file label count")
		}
	}

	return &Reader{dir: dir, layout: layout, numLabels: numLabels, chunkSize: chunkSize, openFileIdx: -1}, nil
}

// NumLabels returns the total dataset length in labels.
func (r *Reader) NumLabels() uint64 { return r.numLabels }

// Stream calls fn once per chunk, in strictly ascending global-index
// order, starting at startIndex. It stops (without error) once the end
// of the dataset is reached, or immediately if fn returns an error.
func (r *Reader) Stream(startIndex uint64, fn func(Chunk) error) error {
	if startIndex >= r.numLabels {
		return nil
	}

	labelsPerChunk := uint64(r.chunkSize / shared.LabelSize)
	if labelsPerChunk == 0 {
		labelsPerChunk = 1
	}

	idx := startIndex
	buf := make([]byte, r.chunkSize)
	for idx < r.numLabels {
		count := labelsPerChunk
		if idx+count > r.numLabels {
			count = r.numLabels - idx
		}
		nBytes := int(count) * shared.LabelSize

		if err := r.readLabels(idx, buf[:nBytes]); err != nil {
			return err
		}
		if err := fn(Chunk{StartIndex: idx, Data: buf[:nBytes]}); err != nil {
			return err
		}
		idx += count
	}
	return nil
}

// readLabels fills dst with count := len(dst)/LabelSize labels starting
// at the given global index. A read spanning a file boundary is split
// into per-file reads, since files are addressed independently.
func (r *Reader) readLabels(index uint64, dst []byte) error {
	remaining := dst
	cur := index
	for len(remaining) > 0 {
		fileIdx := cur / r.layout.LabelsPerFile
		offsetInFile := (cur % r.layout.LabelsPerFile) * shared.LabelSize

		labelsLeftInFile := r.layout.LabelsPerFile - (cur % r.layout.LabelsPerFile)
		labelsWanted := uint64(len(remaining) / shared.LabelSize)
		take := labelsLeftInFile
		if labelsWanted < take {
			take = labelsWanted
		}
		n := int(take) * shared.LabelSize

		if r.openFile == nil || r.openFileIdx != int64(fileIdx) {
			r.Close()
			path := r.dir + "/" + FileName(int(fileIdx))
			f, err := os.Open(path)
			if err != nil {
				return shared.NewIOError("open", path, err)
			}
			r.openFile = f
			r.openFileIdx = int64(fileIdx)
		}
		_, err := r.openFile.ReadAt(remaining[:n], int64(offsetInFile))
		if err != nil && err != io.EOF {
			path := r.dir + "/" + FileName(int(fileIdx))
			return shared.NewIOError("read", path, err)
		}

		remaining = remaining[n:]
		cur += take
	}
	return nil
}
