package randomx

import (
	"context"
	"testing"
	"time"

	"github.com/spacemeshos/post-rs/shared"
)

func easyDifficulty() [32]byte {
	// A generous difficulty so the reference VM's search terminates
	// quickly in tests: top byte 0xff means "most hashes qualify".
	var d [32]byte
	for i := range d {
		d[i] = 0xff
	}
	return d
}

func TestSearchFindsQualifyingNonce(t *testing.T) {
	e := NewEngine(ModeLight)
	defer e.Close()

	var challenge [shared.ChallengeSize]byte
	var identity [shared.IdentitySize]byte
	key := Key(challenge, identity, 0, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, found, err := e.Search(ctx, key, easyDifficulty(), 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Fatal("expected Search to find a qualifying nonce with an easy difficulty")
	}
	if !Less(result.Hash, easyDifficulty()) {
		t.Fatalf("returned hash does not satisfy difficulty")
	}
}

func TestVerifyNonceAgreesWithSearch(t *testing.T) {
	e := NewEngine(ModeLight)
	defer e.Close()

	var challenge [shared.ChallengeSize]byte
	challenge[0] = 7
	var identity [shared.IdentitySize]byte
	key := Key(challenge, identity, 2, 8)

	diff := easyDifficulty()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, found, err := e.Search(ctx, key, diff, 2)
	if err != nil || !found {
		t.Fatalf("Search failed: found=%v err=%v", found, err)
	}

	ok, err := e.VerifyNonce(key, diff, result.Nonce)
	if err != nil {
		t.Fatalf("VerifyNonce: %v", err)
	}
	if !ok {
		t.Fatal("VerifyNonce disagreed with Search's own result")
	}
}

func TestSearchRespectsCancellation(t *testing.T) {
	e := NewEngine(ModeLight)
	defer e.Close()

	var challenge [shared.ChallengeSize]byte
	var identity [shared.IdentitySize]byte
	key := Key(challenge, identity, 0, 1)

	// An impossible difficulty (all zero bound) never qualifies.
	var impossible [32]byte

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, found, err := e.Search(ctx, key, impossible, 2)
	if found {
		t.Fatal("did not expect a solution against an impossible difficulty")
	}
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestVMReuseAcrossSameKeySearches(t *testing.T) {
	e := NewEngine(ModeLight)
	defer e.Close()

	var challenge [shared.ChallengeSize]byte
	var identity [shared.IdentitySize]byte
	key := Key(challenge, identity, 3, 1)

	ctx := context.Background()
	diff := easyDifficulty()

	if _, found, err := e.Search(ctx, key, diff, 2); err != nil || !found {
		t.Fatalf("first search failed: found=%v err=%v", found, err)
	}
	e.mu.Lock()
	vmCountBefore := len(e.vms)
	e.mu.Unlock()

	if _, found, err := e.Search(ctx, key, diff, 2); err != nil || !found {
		t.Fatalf("second search failed: found=%v err=%v", found, err)
	}
	e.mu.Lock()
	vmCountAfter := len(e.vms)
	e.mu.Unlock()

	if vmCountBefore != vmCountAfter {
		t.Fatalf("expected VM pool to be reused, got %d then %d", vmCountBefore, vmCountAfter)
	}
}
