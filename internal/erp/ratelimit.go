package erp

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rateHintCeiling caps how far a 429 can push the shared hint.
const rateHintCeiling = 5 * time.Second

// RateController computes the adaptive inter-request delay for outbound
// calls. The upstream-reported hint is shared process-wide: any call that
// observes a 429 raises it, successful calls decay it back toward the
// default. Last-write-wins races on the hint are acceptable.
type RateController struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	jitter      time.Duration
	defaultHint time.Duration

	mu   sync.Mutex
	hint time.Duration
}

// NewRateController creates a controller with the given clamp bounds,
// jitter ceiling, and default hint used until the upstream signals pressure.
func NewRateController(minDelay, maxDelay, jitter, defaultHint time.Duration) *RateController {
	return &RateController{
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		jitter:      jitter,
		defaultHint: defaultHint,
		hint:        defaultHint,
	}
}

// NextDelay returns clamp(hint, min, max) plus random jitter.
func (rc *RateController) NextDelay() time.Duration {
	rc.mu.Lock()
	hint := rc.hint
	rc.mu.Unlock()

	if hint < rc.minDelay {
		hint = rc.minDelay
	}
	if hint > rc.maxDelay {
		hint = rc.maxDelay
	}
	if rc.jitter > 0 {
		hint += time.Duration(rand.Int63n(int64(rc.jitter)))
	}
	return hint
}

// Wait sleeps for NextDelay or until the context is cancelled.
func (rc *RateController) Wait(ctx context.Context) error {
	timer := time.NewTimer(rc.NextDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ObserveRateLimit raises the shared hint after a 429. backoff is the delay
// the retry wrapper is about to sleep; half of it becomes the new pacing
// floor, capped at the ceiling.
func (rc *RateController) ObserveRateLimit(backoff time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	candidate := backoff / 2
	if candidate > rc.hint {
		rc.hint = candidate
	}
	if rc.hint > rateHintCeiling {
		rc.hint = rateHintCeiling
	}
}

// ObserveSuccess decays an elevated hint back toward the default.
func (rc *RateController) ObserveSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.hint > rc.defaultHint {
		rc.hint = rc.hint * 9 / 10
		if rc.hint < rc.defaultHint {
			rc.hint = rc.defaultHint
		}
	}
}

// Hint returns the current shared hint. Used by tests and the status
// endpoint.
func (rc *RateController) Hint() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.hint
}
