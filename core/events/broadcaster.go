package events

import (
	"sync"
	"sync/atomic"

	"openrate/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster is an Emitter that fans events out to live subscribers. Slow
// subscribers never block the emitter; events that do not fit in a
// subscriber's buffer are dropped and counted.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	dropped atomic.Uint64
}

// Subscription receives events published after it was created.
type Subscription struct {
	id     uint64
	ch     chan *types.Event
	parent *Broadcaster
	once   sync.Once
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber with the supplied buffer size.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan *types.Event, buffer), parent: b}
	b.subs[sub.id] = sub
	return sub
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- payload.Clone():
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan *types.Event { return s.ch }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.parent.mu.Lock()
		delete(s.parent.subs, s.id)
		s.parent.mu.Unlock()
		close(s.ch)
	})
}
