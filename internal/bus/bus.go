package bus

import (
	"sync"
	"sync/atomic"

	"fnmoded/internal/logging"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow consumers
// lose events rather than stall the publisher.
const subscriberBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{} // nil means all kinds
}

func (s *subscriber) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	dropped atomic.Uint64
	logger  *logging.Logger
}

// New creates an empty bus.
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger.WithComponent("bus"),
	}
}

// Subscribe registers for events of the given kinds, or all kinds when none
// are given. The returned cancel func removes the subscription and closes
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish validates the event and fans it out. Invalid events are dropped
// with a debug log and cause no deliveries.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	if err := ev.Validate(); err != nil {
		b.logger.Debug("dropping invalid event",
			"kind", ev.Kind().String(),
			"error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind()) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, dropping event",
				"kind", ev.Kind().String())
		}
	}
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close removes all subscribers and closes their channels. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
