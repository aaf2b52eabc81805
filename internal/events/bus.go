package events

import (
	"sync"
	"sync/atomic"
)

// EventBus is a channel-based pub-sub event bus.
// Supports topic-based subscriptions and SubscribeAll for cross-topic consumption.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool

	dropped atomic.Uint64
	onDrop  func(Event)
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithDropHandler registers fn to be called for every event a full
// subscriber channel could not take.
func WithDropHandler(fn func(Event)) Option {
	return func(b *EventBus) { b.onDrop = fn }
}

// NewEventBus creates a new event bus.
func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{
		subs:    make(map[string][]chan Event),
		allSubs: make([]chan Event, 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe creates a subscription to a specific topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize, false)
}

// SubscribeAll creates a subscription to every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", bufSize, true)
}

func (b *EventBus) subscribe(topic string, bufSize int, all bool) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	if all {
		b.allSubs = append(b.allSubs, ch)
	} else {
		b.subs[topic] = append(b.subs[topic], ch)
	}
	return ch
}

// Publish sends an event to the subscribers of topic and to every
// SubscribeAll channel. A full subscriber channel drops the event rather
// than stalling the publisher.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		b.send(ch, event)
	}
	for _, ch := range b.allSubs {
		b.send(ch, event)
	}
}

func (b *EventBus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(event)
		}
	}
}

// Dropped returns the number of deliveries lost to full subscriber channels.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
