package server

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testLogger returns a logger for tests that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(testLogger())
	runID := uuid.New()
	otherRun := uuid.New()

	ch1 := broker.Subscribe(runID)
	ch2 := broker.Subscribe(runID)
	chOther := broker.Subscribe(otherRun)

	broker.Publish(runID, "turn", map[string]string{"seq": "1"})
	want := string(formatSSE("turn", `{"seq":"1"}`))

	for name, ch := range map[string]chan []byte{"ch1": ch1, "ch2": ch2} {
		select {
		case got := <-ch:
			if string(got) != want {
				t.Errorf("%s: got %q, want %q", name, got, want)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s: timed out waiting for event", name)
		}
	}

	// The other run's subscriber must not see it.
	select {
	case got := <-chOther:
		t.Errorf("other run received event %q", got)
	default:
	}

	// Unsubscribe ch1 and publish again; only ch2 should receive.
	broker.Unsubscribe(runID, ch1)
	broker.Publish(runID, "turn", map[string]string{"seq": "2"})
	want2 := string(formatSSE("turn", `{"seq":"2"}`))

	select {
	case got := <-ch2:
		if string(got) != want2 {
			t.Errorf("ch2: got %q, want %q", got, want2)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	broker.Unsubscribe(runID, ch2)
	broker.Unsubscribe(otherRun, chOther)
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("turn", `{"id":"123"}`))
	want := "event: turn\ndata: {\"id\":\"123\"}\n\n"
	if got != want {
		t.Errorf("formatSSE: got %q, want %q", got, want)
	}
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := NewBroker(testLogger())
	runID := uuid.New()

	// A slow subscriber whose buffer we never drain.
	slow := broker.Subscribe(runID)
	fast := broker.Subscribe(runID)

	// Fill the slow subscriber's buffer.
	for range 65 {
		broker.Publish(runID, "turn", map[string]string{"content": "fill"})
	}

	// The fast subscriber should still get events.
	broker.Publish(runID, "turn", map[string]string{"content": "after-fill"})

	select {
	case <-fast:
		// Buffered events arrive; the fast subscriber is not blocked.
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast subscriber should receive events even when slow subscriber is blocked")
	}

	broker.Unsubscribe(runID, slow)
	broker.Unsubscribe(runID, fast)
}
