package game

import (
	"bytes"
	"cmp"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[K]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockSorted locks every distinct key in the order given by compare and
// returns a function releasing them in reverse.
func lockSorted[K comparable](k *keyedMutex[K], keys []K, compare func(a, b K) int) func() {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, compare)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func compareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func compareInt(a, b int) int {
	return cmp.Compare(a, b)
}
