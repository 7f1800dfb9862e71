// Package events provides the lossy publish side of the marketplace event
// stream. Publishers never block: when a subscriber buffer is full the oldest
// event is dropped, since consumers reconcile via polling anyway.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// New constructs an event envelope stamped with a fresh id and the current
// time.
func New(eventType string, data map[string]string) Event {
	if data == nil {
		data = make(map[string]string)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Emitter is the publish-only interface handed to services.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

const defaultBufferSize = 256

// Bus fans events out to subscribers over bounded buffered channels with a
// drop-oldest overflow policy.
type Bus struct {
	mu      sync.Mutex
	subs    []chan Event
	size    int
	closed  bool
	dropped uint64
}

// NewBus creates a bus whose subscriber channels buffer up to size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{size: size}
}

// Subscribe registers a new subscriber channel. The channel is closed when
// the bus shuts down.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.size)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Emit delivers the event to every subscriber without blocking. A full
// subscriber loses its oldest buffered event.
func (b *Bus) Emit(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
				b.dropped++
			default:
			}
			select {
			case ch <- evt:
			default:
				b.dropped++
			}
		}
	}
}

// Dropped reports how many events were discarded due to slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
