package service

import (
	"sync"
	"time"
)

// Decision is the anti-rollback guard's verdict for one candidate value.
type Decision int

const (
	Allow Decision = iota
	Suppress
)

type guardEntry struct {
	ts    time.Time
	value int
}

// AntiRollbackGuard is a short-lived in-memory ledger of locally decremented
// stock values. It suppresses upstream reads that would bounce a product's
// quantity back above a decrement the upstream has not caught up with yet.
// Safe for concurrent use from both ingress paths.
type AntiRollbackGuard struct {
	window time.Duration

	mu      sync.Mutex
	entries map[int64]guardEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewAntiRollbackGuard creates a guard with the given protection window.
func NewAntiRollbackGuard(window time.Duration) *AntiRollbackGuard {
	return &AntiRollbackGuard{
		window:  window,
		entries: make(map[int64]guardEntry),
		now:     time.Now,
	}
}

// Mark records a local decrement of a product's stock, timestamped now.
// Called by local consumers (e.g. a checkout) right after they write the
// decremented value.
func (g *AntiRollbackGuard) Mark(productID int64, value int) {
	if value < 0 {
		value = 0
	}
	g.mu.Lock()
	g.entries[productID] = guardEntry{ts: g.now(), value: value}
	g.mu.Unlock()
}

// Check decides whether a candidate upstream quantity may be applied.
// A candidate above a live entry's value is suppressed; the entry stays so
// repeated stale reads inside the window keep being suppressed. A candidate
// at or below the entry means the upstream caught up: the entry is cleared
// and the write allowed. Expired or missing entries always allow.
func (g *AntiRollbackGuard) Check(productID int64, candidate int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[productID]
	if !ok {
		return Allow
	}
	if g.now().Sub(entry.ts) >= g.window {
		delete(g.entries, productID)
		return Allow
	}
	if candidate > entry.value {
		return Suppress
	}
	delete(g.entries, productID)
	return Allow
}

// Window returns the configured protection window.
func (g *AntiRollbackGuard) Window() time.Duration {
	return g.window
}
