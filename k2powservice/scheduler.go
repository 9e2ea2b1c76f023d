// Package k2powservice implements the out-of-process K2-PoW HTTP worker
// described in spec.md section 4.7/6.1: a single-slot scheduler wrapping
// randomx.Engine, a process-lifetime result cache, and first-come-
// first-served admission with no queue.
package k2powservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/zeebo/blake3"
)

var logger = log.Default().Module("k2powservice")

// jobKey is the full (miner, nonce_group, challenge, difficulty)
// quadruple identifying a K2-PoW job (spec.md section 4.7).
//
// Unlike the proving pipeline's randomx.Key (spec.md section 4.5, which
// folds in num_units), this HTTP surface is a generic RandomX-PoW oracle
// with no num_units parameter in its URL (spec.md section 6.1); its job
// key is derived independently -- see deriveJobKey and DESIGN.md.
type jobKey struct {
	Miner      [32]byte
	NonceGroup uint8
	Challenge  [8]byte
	Difficulty [32]byte
}

func deriveJobKey(miner [32]byte, nonceGroup uint8, challenge [8]byte, difficulty [32]byte) [32]byte {
	h := blake3.New()
	h.Write(challenge[:])
	h.Write(miner[:])
	h.Write([]byte{nonceGroup})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// state is the K2-PoW service's Idle/Running/Done machine (spec.md
// section 9).
type state int

const (
	stateIdle state = iota
	stateRunning
)

// Status is the outcome of a Scheduler.Submit call, mapped to an HTTP
// status by the service's handler (spec.md section 6.1).
type Status int

const (
	StatusCreated Status = iota // 201: accepted (new or attached to the running job)
	StatusOK                    // 200: cached result ready
	StatusBusy                  // 429: a different job is active
	StatusFailed                // 500: the job ran and errored; see Scheduler.Failure
)

// Scheduler is the single-slot admission controller wrapping a
// randomx.Engine: at most one job runs at a time; matching submissions
// attach to it; mismatched submissions are rejected immediately (spec.md
// section 4.7).
type Scheduler struct {
	engine  *randomx.Engine
	threads int

	mu        sync.Mutex
	st        state
	activeJob jobKey
	cache     map[jobKey]uint64
	failed    map[jobKey]string
}

// NewScheduler constructs a Scheduler running jobs with the given
// RandomX mode and thread count.
func NewScheduler(mode randomx.Mode, threads int) *Scheduler {
	return &Scheduler{
		engine:  randomx.NewEngine(mode),
		threads: threads,
		cache:   make(map[jobKey]uint64),
		failed:  make(map[jobKey]string),
	}
}

// Close releases the scheduler's RandomX engine resources.
func (s *Scheduler) Close() error { return s.engine.Close() }

// Submit registers or checks on a job (spec.md section 4.7): a cached
// result returns StatusOK immediately; a job matching the currently
// running one (or starting a new one from Idle) returns StatusCreated;
// a job that previously ran and errored returns StatusFailed (the
// search is not retried automatically -- spec.md section 6.1 models
// this as a terminal 500, not a retryable state); anything else returns
// StatusBusy.
func (s *Scheduler) Submit(miner [32]byte, nonceGroup uint8, challenge [8]byte, difficulty [32]byte) Status {
	jk := jobKey{Miner: miner, NonceGroup: nonceGroup, Challenge: challenge, Difficulty: difficulty}

	s.mu.Lock()
	if _, ok := s.cache[jk]; ok {
		s.mu.Unlock()
		return StatusOK
	}
	if _, ok := s.failed[jk]; ok {
		s.mu.Unlock()
		return StatusFailed
	}
	if s.st == stateRunning {
		if s.activeJob == jk {
			s.mu.Unlock()
			return StatusCreated
		}
		s.mu.Unlock()
		return StatusBusy
	}

	s.st = stateRunning
	s.activeJob = jk
	s.mu.Unlock()

	go s.run(jk)
	return StatusCreated
}

// Result returns the cached nonce for a job, if any.
func (s *Scheduler) Result(miner [32]byte, nonceGroup uint8, challenge [8]byte, difficulty [32]byte) (uint64, bool) {
	jk := jobKey{Miner: miner, NonceGroup: nonceGroup, Challenge: challenge, Difficulty: difficulty}
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, ok := s.cache[jk]
	return nonce, ok
}

// Failure returns the recorded error string for a job that ran and
// errored, if any (spec.md section 6.1's 500 response body).
func (s *Scheduler) Failure(miner [32]byte, nonceGroup uint8, challenge [8]byte, difficulty [32]byte) (string, bool) {
	jk := jobKey{Miner: miner, NonceGroup: nonceGroup, Challenge: challenge, Difficulty: difficulty}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.failed[jk]
	return msg, ok
}

func (s *Scheduler) run(jk jobKey) {
	key := deriveJobKey(jk.Miner, jk.NonceGroup, jk.Challenge, jk.Difficulty)
	result, found, err := s.engine.Search(context.Background(), key, jk.Difficulty, s.threads)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = stateIdle
	s.activeJob = jobKey{}
	if err != nil {
		correlationID := uuid.NewString()
		logger.Error("k2 pow search failed", "correlation_id", correlationID, "err", err)
		s.failed[jk] = fmt.Sprintf("k2 pow search failed (correlation_id=%s)", correlationID)
		return
	}
	if found {
		s.cache[jk] = result.Nonce
	} else {
		logger.Warn("k2 pow search exhausted without a solution", "nonce_group", jk.NonceGroup)
	}
}
