package mcp

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestReviewTracker_RecordAndCheck(t *testing.T) {
	tracker := newReviewTracker(time.Hour)
	runID := uuid.New()

	// Not reviewed yet.
	if tracker.WasReviewed("moderator", runID) {
		t.Fatal("expected WasReviewed to return false before any Record")
	}

	tracker.Record("moderator", runID)

	if !tracker.WasReviewed("moderator", runID) {
		t.Fatal("expected WasReviewed to return true after Record")
	}
}

func TestReviewTracker_DifferentRuns(t *testing.T) {
	tracker := newReviewTracker(time.Hour)

	tracker.Record("moderator", uuid.New())

	// Same actor, different run.
	if tracker.WasReviewed("moderator", uuid.New()) {
		t.Fatal("expected WasReviewed to return false for an unreviewed run")
	}
}

func TestReviewTracker_DifferentActors(t *testing.T) {
	tracker := newReviewTracker(time.Hour)
	runID := uuid.New()

	tracker.Record("moderator", runID)

	// Same run, different actor.
	if tracker.WasReviewed("observer", runID) {
		t.Fatal("expected WasReviewed to return false for a different actor")
	}
}

func TestReviewTracker_WindowExpiry(t *testing.T) {
	tracker := newReviewTracker(time.Millisecond)
	runID := uuid.New()

	tracker.Record("moderator", runID)
	time.Sleep(5 * time.Millisecond)

	if tracker.WasReviewed("moderator", runID) {
		t.Fatal("expected WasReviewed to return false after the window expired")
	}

	// The expired entry is removed on lookup.
	tracker.mu.Lock()
	remaining := len(tracker.reviews)
	tracker.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected expired entry to be deleted, %d remain", remaining)
	}
}

func TestReviewTracker_PurgeStale(t *testing.T) {
	tracker := newReviewTracker(time.Millisecond)

	for range 10 {
		tracker.Record("moderator", uuid.New())
	}
	time.Sleep(5 * time.Millisecond)

	tracker.mu.Lock()
	tracker.purgeStale()
	remaining := len(tracker.reviews)
	tracker.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("expected purgeStale to clear expired entries, %d remain", remaining)
	}
}
