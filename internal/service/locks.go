package service

import "sync"

// keyedMutex serializes reconciliation per product id so the poll loop and
// concurrent webhook handlers cannot interleave read-modify-write on the
// same row.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*lockRef
}

type lockRef struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*lockRef)}
}

// Lock blocks until the per-key lock is held and returns the unlock
// function. Lock entries are dropped once the last holder releases.
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	ref, ok := k.locks[key]
	if !ok {
		ref = &lockRef{}
		k.locks[key] = ref
	}
	ref.refs++
	k.mu.Unlock()

	ref.mu.Lock()

	return func() {
		ref.mu.Unlock()

		k.mu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
