package game

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	var k keyedMutex[int]
	unlock := k.Lock(7)
	if len(k.locks) != 1 {
		t.Fatalf("expected one held key, got %d", len(k.locks))
	}
	unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected released key to be dropped, got %d", len(k.locks))
	}
}

func TestLockSortedDeduplicatesAndSerializes(t *testing.T) {
	var k keyedMutex[uuid.UUID]
	a, b := uuid.New(), uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		keys := []uuid.UUID{a, b, a}
		if i%2 == 1 {
			keys = []uuid.UUID{b, a}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lockSorted(&k, keys, compareUUID)
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if len(k.locks) != 0 {
		t.Fatalf("expected no keys left, got %d", len(k.locks))
	}
}
