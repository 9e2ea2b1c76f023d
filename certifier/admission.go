package certifier

import "errors"

// ErrOverloaded is returned by Gate.Enter when the bounded queue is
// full (spec.md section 4.8 step 1: "a bounded queue sheds excess with
// 503").
var ErrOverloaded = errors.New("certifier: admission queue full")

// Gate is the bounded-semaphore-plus-bounded-queue admission controller
// described in spec.md section 4.8/5: a fixed number of requests may be
// verifying concurrently (the semaphore); a fixed number more may wait
// for a slot (the queue); anything beyond that is shed immediately.
type Gate struct {
	sem   chan struct{}
	queue chan struct{}
}

// NewGate builds a Gate with maxConcurrent CPU-bound slots and
// maxPending queued waiters beyond that.
func NewGate(maxConcurrent, maxPending int) *Gate {
	return &Gate{
		sem:   make(chan struct{}, maxConcurrent),
		queue: make(chan struct{}, maxConcurrent+maxPending),
	}
}

// Enter reserves a queue slot (or reports ErrOverloaded) and then blocks
// until a CPU-bound semaphore slot is free, returning a release
// function the caller must call exactly once.
func (g *Gate) Enter() (release func(), err error) {
	select {
	case g.queue <- struct{}{}:
	default:
		return nil, ErrOverloaded
	}
	g.sem <- struct{}{}
	return func() {
		<-g.sem
		<-g.queue
	}, nil
}
