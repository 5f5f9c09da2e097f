// ABOUTME: Event system for the coding agent session, enabling real-time observation of agent actions.
// ABOUTME: Provides EventEmitter with subscribe/emit/unsubscribe pattern and typed SessionEvent delivery.

package agent

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind discriminates the type of session event broadcast to subscribers.
type EventKind string

const (
	// EventAssistantChunk carries one assistant turn's text, coarse-grained
	// rather than token-by-token.
	EventAssistantChunk EventKind = "assistant_chunk"
	// EventToolCallStarted is emitted when a tool call transitions to executing.
	EventToolCallStarted EventKind = "tool_call_started"
	// EventToolCallCompleted is emitted when a tool call finishes successfully.
	EventToolCallCompleted EventKind = "tool_call_completed"
	// EventToolCallFailed is emitted when a tool call terminates with an error.
	EventToolCallFailed EventKind = "tool_call_failed"
)

// SessionEvent represents a typed event emitted by the orchestrator. ID is a
// ULID, monotonically sortable, so subscribers reconciling against
// persistence can order events even across a dropped/rejoined connection.
type SessionEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID int64          `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewSessionEvent constructs a SessionEvent with a fresh ULID id and the
// current timestamp.
func NewSessionEvent(sessionID int64, kind EventKind, data map[string]any) SessionEvent {
	return SessionEvent{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      data,
	}
}

// EventEmitter delivers session events to subscribed channels. Delivery is
// best-effort and ordered per subscriber: a slow subscriber drops events
// rather than blocking emission to others.
type EventEmitter struct {
	mu          sync.RWMutex
	subscribers []chan SessionEvent
	closed      bool
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		subscribers: make([]chan SessionEvent, 0),
	}
}

// Subscribe registers a new subscriber channel and returns it.
// The channel has a buffer of 64 to reduce the likelihood of blocking.
func (e *EventEmitter) Subscribe() <-chan SessionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan SessionEvent, 64)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (e *EventEmitter) Unsubscribe(ch <-chan SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscribers {
		// Cast the bidirectional channel to receive-only for comparison
		if (<-chan SessionEvent)(sub) == ch {
			close(sub)
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers. Non-blocking: if a subscriber's
// channel buffer is full, the event is dropped for that subscriber.
func (e *EventEmitter) Emit(event SessionEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow subscribers rather than blocking
		}
	}
}

// Close closes the emitter and all subscriber channels.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}
