package bus

import (
	"sync"
	"time"
)

// EventType identifies a published event.
type EventType string

// Run lifecycle events published by the engine.
const (
	EventRunStarted          EventType = "run.started"
	EventRunProgress         EventType = "run.progress"
	EventRunCompleted        EventType = "run.completed"
	EventRunStopped          EventType = "run.stopped"
	EventRunFailed           EventType = "run.failed"
	EventRunEmergencyStopped EventType = "run.emergency_stopped"
	EventRunDenied           EventType = "run.denied"

	EventEmergencyChanged EventType = "emergency.changed"
	EventUsageUpdated     EventType = "usage.updated"
)

// Event is a single published notification. RoomID is empty for
// facility-wide events such as a global emergency stop.
type Event struct {
	Type      EventType      `json:"type"`
	RoomID    string         `json:"room_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultBufferSize is the per-subscriber channel buffer. A slow
// subscriber loses events rather than stalling the engine; the engine
// must never block on an observer.
const defaultBufferSize = 64

// Bus is an in-process publish/subscribe fan-out for engine events.
//
// Publish is non-blocking: events are dropped for subscribers whose
// buffers are full. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
	logger Logger
}

// New creates a bus with the default per-subscriber buffer.
func New() *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: defaultBufferSize,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers a new subscriber and returns its event channel
// together with an unsubscribe function. The channel is closed when
// unsubscribed or when the bus shuts down. The unsubscribe function is
// idempotent.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber. A zero timestamp is
// stamped with the current time. Subscribers with full buffers are
// skipped.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Warn("event dropped for slow subscribers",
			"type", event.Type, "room_id", event.RoomID, "dropped", dropped)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down, closing all subscriber channels. Publish
// and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
