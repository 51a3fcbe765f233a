package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter handles event emission for the scheduler.
// Emission never blocks scheduling: a full channel gets a short grace period
// and then the event is dropped and counted. Emitting after Close is a
// silent no-op.
type EventEmitter struct {
	mu           sync.RWMutex
	closed       bool
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
