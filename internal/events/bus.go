// Package events provides a pub/sub event bus for work-item, execution, and
// memory events. The HTTP /events stream holds the standing subscription.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType classifies server events.
type EventType string

const (
	WorkItemCreated   EventType = "work_item.created"
	WorkItemUpdated   EventType = "work_item.updated"
	WorkItemDeleted   EventType = "work_item.deleted"
	ProgressUpdated   EventType = "progress.updated"
	ExecutionStarted  EventType = "execution.started"
	ExecutionProgress EventType = "execution.progress"
	ExecutionDone     EventType = "execution.completed"
	ExecutionFailed   EventType = "execution.failed"
	ExecutionCanceled EventType = "execution.cancelled"
	MemoryImported    EventType = "memory.imported"
	MemoryExported    EventType = "memory.exported"
)

// Event represents one server event.
type Event struct {
	Type       EventType   `json:"type"`
	WorkItemID string      `json:"work_item_id,omitempty"`
	Summary    string      `json:"summary"`
	Detail     interface{} `json:"detail,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// JSON returns the event as a JSON byte slice.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Bus is a simple pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
}

// NewBus creates an event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: drops events for slow subscribers.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Subscribe returns a channel of events. Call Unsubscribe with the returned id when done.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
