package certifier

import (
	"testing"
	"time"
)

// TestGateShedsBeyondQueueCapacity matches spec.md section 4.8 step 1:
// once the semaphore and the queue are both full, further callers are
// shed with ErrOverloaded rather than blocking.
func TestGateShedsBeyondQueueCapacity(t *testing.T) {
	g := NewGate(1, 1)

	release1, err := g.Enter()
	if err != nil {
		t.Fatalf("first Enter: %v", err)
	}

	// Second caller occupies the one queued slot and blocks on the
	// semaphore until release1 runs.
	unblocked := make(chan struct{})
	go func() {
		release2, err := g.Enter()
		if err == nil {
			release2()
		}
		close(unblocked)
	}()
	time.Sleep(50 * time.Millisecond)

	if _, err := g.Enter(); err != ErrOverloaded {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}

	release1()
	<-unblocked
}

func TestGateAllowsSerialReuse(t *testing.T) {
	g := NewGate(2, 0)
	for i := 0; i < 5; i++ {
		release, err := g.Enter()
		if err != nil {
			t.Fatalf("Enter %d: %v", i, err)
		}
		release()
	}
}
