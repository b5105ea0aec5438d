package trainer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSubscriberBufCap = 100
	defaultLogBacklog       = 200
)

// Hub fans events out to the current subscribers of the push channel.
// Publish never blocks: a slow or disconnected subscriber loses events
// rather than stalling the training loop. Delivery order per subscriber
// matches emission order.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	ring *RingBuffer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]chan Event),
		ring: NewRingBuffer(defaultLogBacklog),
	}
}

// Subscribe registers a new subscriber and returns its ID and channel. The
// channel receives only events published after this call.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	switch ev.Type {
	case EventStatus, EventLog, EventComplete, EventError:
		h.ring.Write(Notification{Time: ev.Time, Type: ev.Type, Message: ev.Message})
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, drop the event.
		}
	}
}

// Status publishes a free-text status message.
func (h *Hub) Status(msg string) {
	h.Publish(Event{Type: EventStatus, Message: msg})
}

// Log publishes a free-text log line.
func (h *Hub) Log(msg string) {
	h.Publish(Event{Type: EventLog, Message: msg})
}

// RecentLogs returns the buffered status/log notifications, oldest first.
func (h *Hub) RecentLogs() []Notification {
	return h.ring.ReadAll()
}
