package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// reviewTracker records recent transcript reads so mogi_post_feedback can
// detect when a caller injects feedback without having looked at the run
// and nudge them.
//
// The tracker is keyed on (actor, run) with a configurable time window. It
// is an in-memory, per-process structure that does not survive restarts;
// the nudge is advisory, not a hard gate.
type reviewTracker struct {
	mu      sync.Mutex
	reviews map[reviewKey]time.Time
	window  time.Duration
}

type reviewKey struct {
	actorID string
	runID   uuid.UUID
}

func newReviewTracker(window time.Duration) *reviewTracker {
	return &reviewTracker{
		reviews: make(map[reviewKey]time.Time),
		window:  window,
	}
}

// Record notes that the actor read the run's transcript.
func (t *reviewTracker) Record(actorID string, runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reviews[reviewKey{actorID, runID}] = time.Now()

	// Lazy cleanup: purge stale entries once the map has grown large so
	// many distinct (actor, run) pairs don't accumulate without bound.
	if len(t.reviews) > 1000 {
		t.purgeStale()
	}
}

// WasReviewed reports whether the actor read the run's transcript within
// the configured time window.
func (t *reviewTracker) WasReviewed(actorID string, runID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.reviews[reviewKey{actorID, runID}]
	if !ok {
		return false
	}
	if time.Since(ts) > t.window {
		delete(t.reviews, reviewKey{actorID, runID})
		return false
	}
	return true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *reviewTracker) purgeStale() {
	now := time.Now()
	for k, ts := range t.reviews {
		if now.Sub(ts) > t.window {
			delete(t.reviews, k)
		}
	}
}
