package feed

import (
	"context"
	"log/slog"
	"sync"
)

const defaultSubscriberBuffer = 32

// Broker is an in-process fan-out of events to per-group subscribers. Slow
// subscribers lose events rather than block publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// Subscription receives the events of one group until Close is called.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	groupID string
	broker  *Broker
	once    sync.Once
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: defaultSubscriberBuffer,
		logger: logger.With("component", "feed"),
	}
}

// Subscribe registers interest in groupID's events.
func (b *Broker) Subscribe(groupID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, groupID: groupID, broker: b}

	b.mu.Lock()
	if b.subs[groupID] == nil {
		b.subs[groupID] = make(map[*Subscription]struct{})
	}
	b.subs[groupID][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		if subs := b.subs[s.groupID]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.subs, s.groupID)
			}
		}
		close(s.ch)
		b.mu.Unlock()
	})
}

// Publish delivers e to every current subscriber of e.GroupID. It never
// blocks and never fails.
func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[e.GroupID] {
		select {
		case sub.ch <- e:
		default:
			b.logger.Debug("dropping event for slow subscriber", "group_id", e.GroupID, "type", e.Type)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for groupID.
func (b *Broker) Subscribers(groupID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[groupID])
}
