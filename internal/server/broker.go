package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Broker fans out run events to SSE subscribers. It is an in-process
// pub/sub keyed by run ID, so it works the same over the Postgres and
// memory stores. Handlers publish after a mutation commits; subscribers
// receive SSE-formatted frames.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Publish sends an event to every subscriber of the run. The payload is
// marshalled to JSON; a marshal failure drops the event with a log line
// rather than failing the request that triggered it.
func (b *Broker) Publish(runID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("broker: marshal event", "run_id", runID, "event", eventType, "error", err)
		return
	}
	event := formatSSE(eventType, string(data))

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[runID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them so one
			// slow client cannot block the rest.
		}
	}
}

// Subscribe returns a channel that receives SSE-formatted events for the
// run. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(runID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[chan []byte]struct{})
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(runID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	if subs := b.subscribers[runID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, runID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
