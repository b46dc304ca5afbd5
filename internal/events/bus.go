// Package events provides the lifecycle event vocabulary and fan-out bus
// connecting the conversion engine to whatever UI consumes it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle event.
type Type string

// Event types. Completed, Error, and Cancelled are terminal: exactly one
// is emitted per task, and nothing follows it.
const (
	TypeStarted   Type = "conversion-started"
	TypeProgress  Type = "conversion-progress"
	TypeLog       Type = "conversion-log"
	TypeCompleted Type = "conversion-completed"
	TypeError     Type = "conversion-error"
	TypeCancelled Type = "conversion-cancelled"
)

// IsTerminal returns true for the terminal event types.
func (t Type) IsTerminal() bool {
	return t == TypeCompleted || t == TypeError || t == TypeCancelled
}

// Event is one lifecycle notification for a task. Events are ordered per
// task; across tasks there is no ordering guarantee.
type Event struct {
	TaskID string    `json:"id"`
	Type   Type      `json:"type"`
	Time   time.Time `json:"time"`

	// Progress is set for TypeProgress events, in [0.0, 1.0].
	Progress float64 `json:"progress,omitempty"`
	// Line is set for TypeLog events.
	Line string `json:"line,omitempty"`
	// OutputPath is set for TypeCompleted events.
	OutputPath string `json:"outputPath,omitempty"`
	// Error is set for TypeError events.
	Error string `json:"error,omitempty"`
}

// Subscriber receives events over a buffered channel. Delivery is
// best-effort: a subscriber that stops draining loses events rather than
// blocking publishers.
type Subscriber struct {
	ID     string
	Events chan Event
}

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
	closed      bool
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Events: make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.Events)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}

// Publish delivers an event to all subscribers without blocking. A full
// subscriber channel drops the event for that subscriber only.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		select {
		case sub.Events <- event:
		default:
		}
	}
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}
