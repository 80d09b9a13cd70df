package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// subscription は購読者ごとのチャネルと対象イベント
type subscription struct {
	ch    chan Event
	types map[EventType]struct{}
}

func (s *subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is a simple pub/sub event bus.
// A nil *Bus is valid: Publish on it is a no-op.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]*subscription
	bufferSize  int
	dropped     atomic.Uint64
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[<-chan Event]*subscription),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe returns a channel that receives events of the given types,
// or every event when no type is given.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subscribers[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes a subscriber channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(sub.ch)
	}
}

// Publish sends an event to all interested subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, key)
	}
}
