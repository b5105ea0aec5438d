package trainer

import (
	"sync"
	"time"
)

// Notification is one status or log line kept for clients that want recent
// history over the REST surface. The push channel itself never replays.
type Notification struct {
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// RingBuffer is a fixed-capacity circular buffer of notifications.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []Notification
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buf:      make([]Notification, capacity),
		capacity: capacity,
	}
}

// Write adds a notification, evicting the oldest when full.
func (rb *RingBuffer) Write(n Notification) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = n
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns the buffered notifications in chronological order.
func (rb *RingBuffer) ReadAll() []Notification {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]Notification, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]Notification, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}
