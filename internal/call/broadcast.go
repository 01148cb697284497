package call

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// defaultSubscriberBuffer bounds how far a subscriber may lag before it
// starts missing events.
const defaultSubscriberBuffer = 32

// Subscriber is one registered consumer of lifecycle events.
type Subscriber struct {
	ch chan Event
}

// Events returns the subscriber's delivery channel. It is closed on
// Unsubscribe and on broadcaster shutdown.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Broadcaster fans lifecycle events out to all current subscribers in
// publish order. Delivery is best effort per subscriber: one that cannot
// receive right now misses the event, with no queueing or retry. A
// subscriber that missed events re-syncs through the orchestrator's
// Status snapshot.
type Broadcaster struct {
	mu     sync.Mutex
	subs   []*Subscriber
	buf    int
	closed bool
	log    *logrus.Entry
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber
// buffer size; zero means the default.
func NewBroadcaster(buf int, log *logrus.Entry) *Broadcaster {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	return &Broadcaster{buf: buf, log: log}
}

// Subscribe registers a new consumer. It will observe all events published
// after this call, in publish order.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, b.buf)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Unsubscribing an
// unknown or already-removed subscriber is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A full subscriber
// buffer drops the event for that subscriber only.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warnf("subscriber lagging, dropped %s", ev.EventName())
		}
	}
}

// Close shuts the broadcaster down and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
