// Package events provides the in-process event bus for concord components.
// The pipeline engine, model router and model registry publish lifecycle
// events; subscribers receive them asynchronously with fan-out semantics.
// An optional NATS bridge forwards events to the platform message bus.
package events

import (
	"sync"
	"time"
)

// EventType identifies a published event.
type EventType string

// Pipeline lifecycle events.
const (
	PipelineStarted        EventType = "pipeline.started"
	PipelineStageEntered   EventType = "pipeline.stage_entered"
	PipelineStageCompleted EventType = "pipeline.stage_completed"
	PipelineBlocked        EventType = "pipeline.blocked"
	PipelineCompleted      EventType = "pipeline.completed"
	PipelineError          EventType = "pipeline.error"
)

// Model router events.
const (
	RouterModelSelected       EventType = "router.model.selected"
	RouterGenerationStarted   EventType = "router.generation.started"
	RouterGenerationCompleted EventType = "router.generation.completed"
	RouterGenerationFailed    EventType = "router.generation.failed"
	RouterQualityChecked      EventType = "router.quality.checked"
	RouterQualityFailed       EventType = "router.quality.failed"
	RouterModelFallback       EventType = "router.model.fallback"
	RouterModelExhausted      EventType = "router.model.exhausted"
	RouterBudgetWarning       EventType = "router.budget.warning"
	RouterBudgetExceeded      EventType = "router.budget.exceeded"
)

// Model registry events.
const (
	RegistryModelRegistered   EventType = "registry.model.registered"
	RegistryModelUnregistered EventType = "registry.model.unregistered"
	RegistryStatusChanged     EventType = "registry.model.status_changed"
	RegistryHealthChecked     EventType = "registry.health.checked"
	RegistryHealthDegraded    EventType = "registry.health.degraded"
)

// Event is a published system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives events.
type Subscriber func(Event)

// Bus is a non-blocking broadcast bus. Events are delivered asynchronously
// through buffered channels; a full subscriber channel drops the event for
// that subscriber rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	wildcard    []chan Event
	bufferSize  int
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event type.
// The subscriber runs in its own goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	go deliver(ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers a subscriber for every event type.
// Used by the NATS bridge and audit logging.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.wildcard = append(b.wildcard, ch)
	go deliver(ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, subCh := range b.wildcard {
			if subCh == ch {
				b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// deliver drains a subscriber channel, isolating subscriber panics so a
// misbehaving consumer cannot take down the bus.
func deliver(ch chan Event, fn Subscriber) {
	for event := range ch {
		func() {
			defer func() {
				_ = recover()
			}()
			fn(event)
		}()
	}
}

// Publish sends an event to all subscribers of its type plus wildcard
// subscribers. Publishing never blocks.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.wildcard {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	for _, ch := range b.wildcard {
		close(ch)
	}
	b.wildcard = nil
}
