package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a cache-invalidation hint: some directory's contents may have
// changed. Consumers re-fetch authoritative state rather than trusting the
// payload.
type Event struct {
	Dir string    `json:"dir"`
	At  time.Time `json:"at"`
}

// subscriberBuffer bounds how far one slow consumer may lag before it is
// treated as disconnected.
const subscriberBuffer = 16

// Hub is the process-wide registry of change-notification subscribers.
// Delivery is at-most-once and best-effort: a subscriber that cannot keep
// up is dropped, never blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan Event
}

// NewHub creates an empty hub. One hub exists per server process.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a new connection and returns its handle and event
// channel. The channel is closed when the subscriber is removed.
func (h *Hub) Subscribe() (uuid.UUID, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a connection. Safe to call more than once.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish fans out a change event for dir to every current subscriber.
// A subscriber whose buffer is full is dropped.
func (h *Hub) Publish(dir string) {
	ev := Event{Dir: dir, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, id)
			close(ch)
			slog.Warn("dropped slow change-feed subscriber", "id", id)
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
