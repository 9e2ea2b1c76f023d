package proving

import (
	"context"
	"errors"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spacemeshos/post-rs/cipher"
	"github.com/spacemeshos/post-rs/dataset"
	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/spacemeshos/post-rs/shared"
)

var logger = log.Default().Module("proving")

// errScanDone is returned internally by a scanGroup's Stream callback to
// stop reading further chunks once some nonce has already reached k2;
// it is not surfaced to callers of Prove.
var errScanDone = errors.New("proving: scan satisfied early")

// DefaultMaxNonceGroups bounds how many 16-wide nonce groups (and
// therefore how many full dataset re-streams, spec.md section 4.4's
// "second pass") the pipeline will attempt before giving up with
// ErrInsufficientLabels. The binomial tail in spec.md section 8 makes
// more than a handful of passes exceedingly unlikely for well-chosen
// k1/k2, so this is a generous safety bound, not a tuning knob most
// deployments need to touch.
const DefaultMaxNonceGroups = 16

// Config configures a proving Pipeline run.
type Config struct {
	Post       shared.PostConfig
	Challenge  [shared.ChallengeSize]byte
	Identity   [shared.IdentitySize]byte
	NumUnits   uint32
	// Threads is the dataset-chunk worker pool size; 0 means
	// runtime.NumCPU() (spec.md section 5).
	Threads int
	// MaxNonceGroups bounds the number of dataset passes; 0 means
	// DefaultMaxNonceGroups.
	MaxNonceGroups int
	// PoWMode selects the K2-PoW engine's RandomX VM mode (spec.md
	// section 4.5).
	PoWMode randomx.Mode
}

// Difficulty computes D_nonce = floor(2^64 * k1 / num_labels)
// (spec.md section 4.4), the per-nonce threshold a label's C0 value
// must fall below to qualify.
func Difficulty(k1 uint32, numLabels uint64) uint64 {
	num := new(big.Int).Lsh(big.NewInt(int64(k1)), 64)
	den := new(big.Int).SetUint64(numLabels)
	d := new(big.Int).Div(num, den)
	if !d.IsUint64() {
		// k1/numLabels >= 1: every label qualifies. Clamp to max.
		return ^uint64(0)
	}
	return d.Uint64()
}

// Pipeline runs the two-level sieve and nonce-group scheduling
// described in spec.md section 4.4, producing a Proof once some
// 16-wide nonce group has both a nonce reaching k2 qualifying labels
// and a valid K2 PoW solution for that group.
type Pipeline struct {
	reader *dataset.Reader
	cfg    Config
	pow    *randomx.Engine
}

// NewPipeline constructs a Pipeline reading from reader.
func NewPipeline(reader *dataset.Reader, cfg Config) *Pipeline {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.MaxNonceGroups <= 0 {
		cfg.MaxNonceGroups = DefaultMaxNonceGroups
	}
	return &Pipeline{
		reader: reader,
		cfg:    cfg,
		pow:    randomx.NewEngine(cfg.PoWMode),
	}
}

// Close releases the pipeline's K2-PoW engine resources.
func (p *Pipeline) Close() error { return p.pow.Close() }

// Prove runs the pipeline to completion, returning shared.ErrInsufficientLabels
// if every nonce group up to MaxNonceGroups fails to accumulate k2 labels
// for any nonce, or shared.ErrPoWNotFound if labels were found but no
// group ever produced a K2 PoW solution.
func (p *Pipeline) Prove(ctx context.Context) (*shared.Proof, error) {
	numLabels := p.reader.NumLabels()
	difficulty := Difficulty(p.cfg.Post.K1, numLabels)

	sawQualifyingLabels := false

	for groupIdx := 0; groupIdx < p.cfg.MaxNonceGroups; groupIdx++ {
		groupStart := uint32(groupIdx) * shared.NonceGroupSize

		winner, indices, err := p.scanGroup(groupStart, difficulty)
		if err != nil {
			return nil, err
		}
		if winner < 0 {
			logger.Debug("nonce group exhausted without reaching k2", "group", groupIdx)
			continue
		}
		sawQualifyingLabels = true

		key := randomx.Key(p.cfg.Challenge, p.cfg.Identity, uint8(groupIdx), p.cfg.NumUnits)
		result, found, err := p.pow.Search(ctx, key, p.cfg.Post.PowDifficulty, p.cfg.Threads)
		if err != nil {
			return nil, err
		}
		if !found {
			logger.Debug("no K2 PoW solution for group", "group", groupIdx)
			continue
		}

		nonce := groupStart + uint32(winner)
		logger.Info("proof found", "group", groupIdx, "nonce", nonce, "pow_nonce", result.Nonce)
		return &shared.Proof{
			PowNonce: result.Nonce,
			Nonce:    nonce,
			Indices:  indices,
		}, nil
	}

	if sawQualifyingLabels {
		return nil, shared.ErrPoWNotFound
	}
	return nil, shared.ErrInsufficientLabels
}

// scanGroup streams the dataset once, testing all 16 nonces in the
// group against every label, and returns the winning in-group nonce
// index (0-15) plus its ascending-order indices once some nonce
// reaches k2. winner is -1 if no nonce reaches k2 by the end of the
// stream.
//
// Dataset chunks are distributed across a worker pool (spec.md section
// 5); a single reducer merges per-chunk, per-nonce matches in strict
// chunk arrival order so that, for any nonce, labels from an earlier
// chunk always precede labels from a later chunk in its accumulator
// (spec.md section 4.4's ordering requirement).
func (p *Pipeline) scanGroup(groupStart uint32, difficulty uint64) (winner int, indices []uint64, err error) {
	kernels, err := cipher.NonceGroupKernels(p.cfg.Challenge, groupStart)
	if err != nil {
		return -1, nil, err
	}

	var accumulators [shared.NonceGroupSize][]uint64
	k2 := int(p.cfg.Post.K2)
	winner = -1

	type job struct {
		chunk  dataset.Chunk
		result chan [shared.NonceGroupSize][]uint64
	}

	jobs := make(chan job, p.cfg.Threads)
	order := make(chan chan [shared.NonceGroupSize][]uint64, p.cfg.Threads*4)
	var done int32 // set once a winner is found, checked by the producer to stop reading early

	var wg sync.WaitGroup
	for t := 0; t < p.cfg.Threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				j.result <- scanChunk(kernels, j.chunk, difficulty)
			}
		}()
	}

	var streamErr error
	go func() {
		streamErr = p.reader.Stream(0, func(c dataset.Chunk) error {
			if atomic.LoadInt32(&done) == 1 {
				return errScanDone
			}
			// Stream reuses its internal buffer across callbacks, but
			// jobs are consumed asynchronously by the worker pool, so
			// each chunk's bytes must be copied before being handed off.
			owned := make([]byte, len(c.Data))
			copy(owned, c.Data)
			resultCh := make(chan [shared.NonceGroupSize][]uint64, 1)
			order <- resultCh
			jobs <- job{chunk: dataset.Chunk{StartIndex: c.StartIndex, Data: owned}, result: resultCh}
			return nil
		})
		close(jobs)
		close(order)
	}()

	for resultCh := range order {
		chunkMatches := <-resultCh
		if atomic.LoadInt32(&done) == 1 {
			continue // drain remaining in-flight work without reprocessing
		}
		for n := 0; n < shared.NonceGroupSize; n++ {
			if len(accumulators[n]) >= k2 {
				continue
			}
			accumulators[n] = append(accumulators[n], chunkMatches[n]...)
		}
		// Determine whether any nonce newly crossed k2 in this chunk;
		// on a tie, the smallest nonce index wins (spec.md section 4.4).
		for n := 0; n < shared.NonceGroupSize; n++ {
			if len(accumulators[n]) >= k2 {
				winner = n
				atomic.StoreInt32(&done, 1)
				break
			}
		}
	}
	wg.Wait()

	if streamErr != nil && streamErr != errScanDone {
		return -1, nil, streamErr
	}
	if winner < 0 {
		return -1, nil, nil
	}
	return winner, accumulators[winner][:k2], nil
}

// scanChunk computes, for each of the 16 nonces, the ascending-order
// global indices of labels in c whose C0 difficulty value qualifies.
func scanChunk(kernels [shared.NonceGroupSize]*cipher.Kernel, c dataset.Chunk, difficulty uint64) [shared.NonceGroupSize][]uint64 {
	var matches [shared.NonceGroupSize][]uint64
	n := c.NumLabels()
	for nonceIdx := 0; nonceIdx < shared.NonceGroupSize; nonceIdx++ {
		batch := kernels[nonceIdx].Process(c.Data)
		for i := 0; i < n; i++ {
			if cipher.DifficultyValue(batch.C0[i]) < difficulty {
				matches[nonceIdx] = append(matches[nonceIdx], c.StartIndex+uint64(i))
			}
		}
	}
	return matches
}
