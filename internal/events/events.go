// Package events provides the in-process event bus that carries progress
// and lifecycle updates from the orchestration core to presenters.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress EventType = "progress"
	EventStatus   EventType = "status"
	EventError    EventType = "error"
	EventComplete EventType = "complete"

	// Batch move lifecycle events
	EventBatchCounting  EventType = "batch_counting"  // Resolving per-directory file counts
	EventItemStarted    EventType = "item_started"    // Item left Pending
	EventItemCompleted  EventType = "item_completed"  // Item succeeded
	EventItemFailed     EventType = "item_failed"     // Item failed (non-fatal for files)
	EventBatchCompleted EventType = "batch_completed" // All items reached a terminal state
	EventBatchAborted   EventType = "batch_aborted"   // Directory failure or cancellation
	EventBatchUnknown   EventType = "batch_unknown"   // Ceiling hit, true state unknown

	// Script channel events
	EventScriptStatus    EventType = "script_status"
	EventScriptCompleted EventType = "script_completed"
	EventScriptFailed    EventType = "script_failed"

	// Thumbnail poller events
	EventThumbReady  EventType = "thumb_ready"
	EventThumbFailed EventType = "thumb_failed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent represents a percent update for one item or invocation
type ProgressEvent struct {
	BaseEvent
	BatchID string
	Item    string // Source path of the in-flight item
	Percent int    // 0..100, non-decreasing within one item
	Message string // Status text for display
	Phase   string // "counting", "moving", "script", "thumbnail"
}

// StatusEvent carries a status line with no percent change
type StatusEvent struct {
	BaseEvent
	BatchID string
	Item    string
	Message string
}

// ItemEvent represents per-item lifecycle transitions
type ItemEvent struct {
	BaseEvent
	BatchID string
	Item    string
	Index   int
	Kind    string // "file" or "directory"
	Error   error  // Set for EventItemFailed
}

// BatchEvent represents whole-batch terminal transitions
type BatchEvent struct {
	BaseEvent
	BatchID   string
	Attempted int
	Moved     int
	Failed    int
	Duration  time.Duration
	Error     error
}

// ScriptEvent represents script channel lifecycle updates
type ScriptEvent struct {
	BaseEvent
	ScriptType string
	FilePath   string
	Message    string
	Error      error
}

// ThumbEvent represents thumbnail readiness transitions
type ThumbEvent struct {
	BaseEvent
	URL      string
	Attempts int
	Error    error
}

// Bus manages event subscriptions and publishing
type Bus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event // Subscribers to all events
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
	dropped     atomic.Int64 // Count of events dropped due to full buffers
}

const defaultBuffer = 256

// NewBus creates a new event bus with the specified per-subscriber buffer size
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Publishing never blocks;
// events are dropped when a subscriber's buffer is full.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}

	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subscribers := b.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			b.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel registered via SubscribeAll
func (b *Bus) UnsubscribeAll(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for i, subCh := range b.all {
		if subCh == ch {
			b.all[i] = b.all[len(b.all)-1]
			b.all = b.all[:len(b.all)-1]
			break
		}
	}
}

// PublishProgress is a convenience method for publishing percent updates
func (b *Bus) PublishProgress(batchID, item string, percent int, message, phase string) {
	b.Publish(&ProgressEvent{
		BaseEvent: BaseEvent{EventType: EventProgress, Time: time.Now()},
		BatchID:   batchID,
		Item:      item,
		Percent:   percent,
		Message:   message,
		Phase:     phase,
	})
}

// PublishStatus is a convenience method for publishing status-only updates
func (b *Bus) PublishStatus(batchID, item, message string) {
	b.Publish(&StatusEvent{
		BaseEvent: BaseEvent{EventType: EventStatus, Time: time.Now()},
		BatchID:   batchID,
		Item:      item,
		Message:   message,
	})
}

// DroppedEventCount returns the total number of events dropped due to full buffers
func (b *Bus) DroppedEventCount() int64 {
	return b.dropped.Load()
}
