// Package broadcaster implements the per-lobby publish/subscribe fabric
// from spec.md §4.3: fan-out to every current subscriber in parallel,
// with per-subscriber independent failure and per-subscriber FIFO
// delivery order.
package broadcaster

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// topic is one lobby's subscriber set plus the per-subscriber delivery
// queues that give FIFO ordering without holding the topic lock across a
// (potentially slow) Subscriber.Send call.
type topic struct {
	mu   sync.Mutex
	subs map[core.Subscriber]*lane
}

// lane serializes delivery to a single subscriber: Publish appends to
// pending and wakes the lane's own goroutine, which drains pending in
// order. This is what gives "events broadcast to any single subscriber
// are totally ordered" (spec.md §5) even though Publish fans out to every
// subscriber concurrently.
type lane struct {
	mu      sync.Mutex
	pending []core.Event
	running bool
}

// Broadcaster is the process-wide singleton implementing core.Broadcaster.
type Broadcaster struct {
	log *logrus.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

// New constructs a Broadcaster. logger may be nil only in tests.
func New(logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{log: logger, topics: make(map[string]*topic)}
}

func (b *Broadcaster) topicFor(lobbyID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[lobbyID]
	if !ok {
		t = &topic{subs: make(map[core.Subscriber]*lane)}
		b.topics[lobbyID] = t
	}
	return t
}

// Subscribe registers sub to receive events published to lobbyID.
func (b *Broadcaster) Subscribe(lobbyID string, sub core.Subscriber) {
	t := b.topicFor(lobbyID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; !ok {
		t.subs[sub] = &lane{}
	}
}

// Unsubscribe removes sub from lobbyID's topic. Idempotent.
func (b *Broadcaster) Unsubscribe(lobbyID string, sub core.Subscriber) {
	b.mu.Lock()
	t, ok := b.topics[lobbyID]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		b.mu.Lock()
		if cur, ok := b.topics[lobbyID]; ok && cur == t {
			delete(b.topics, lobbyID)
		}
		b.mu.Unlock()
	}
}

// Publish delivers evt to every current subscriber of lobbyID in
// parallel, one failure isolated per subscriber. The caller must call
// Publish from within the lobby's own critical section so evt's payload
// reflects the just-committed state (spec.md §5).
func (b *Broadcaster) Publish(lobbyID string, evt core.Event) {
	b.mu.Lock()
	t, ok := b.topics[lobbyID]
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	lanes := make([]*lane, 0, len(t.subs))
	subs := make([]core.Subscriber, 0, len(t.subs))
	for sub, l := range t.subs {
		lanes = append(lanes, l)
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for i, l := range lanes {
		b.enqueue(lobbyID, l, subs[i], evt)
	}
}

// PublishTo delivers evt to a single subscriber, used for the "error"
// event type which spec.md §4.3 scopes to the individual recipient.
func (b *Broadcaster) PublishTo(sub core.Subscriber, evt core.Event) {
	if err := sub.Send(evt); err != nil && b.log != nil {
		b.log.WithError(err).Warn("broadcaster: direct send failed")
	}
}

// enqueue appends evt to sub's lane and ensures exactly one drain
// goroutine is running for that lane, preserving FIFO per subscriber
// without serializing across subscribers.
func (b *Broadcaster) enqueue(lobbyID string, l *lane, sub core.Subscriber, evt core.Event) {
	l.mu.Lock()
	l.pending = append(l.pending, evt)
	alreadyRunning := l.running
	l.running = true
	l.mu.Unlock()

	if alreadyRunning {
		return
	}
	go b.drain(lobbyID, l, sub)
}

// drain delivers a lane's pending events in order; a Send failure drops
// the subscriber from the topic entirely, per spec.md §4.3's "a failing
// subscriber is dropped but other deliveries are unaffected".
func (b *Broadcaster) drain(lobbyID string, l *lane, sub core.Subscriber) {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		evt := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		if err := sub.Send(evt); err != nil {
			if b.log != nil {
				b.log.WithError(err).WithField("event", evt.Type).Warn("broadcaster: subscriber delivery failed, dropping subscriber")
			}
			b.Unsubscribe(lobbyID, sub)
			return
		}
	}
}

// PublishAllParallel issues a burst of publishes across multiple lobbies
// concurrently via an errgroup and returns once every Publish call has
// returned. Nothing in this repository calls it, and Publish itself does
// not use errgroup.
func PublishAllParallel(b *Broadcaster, publishes map[string]core.Event) {
	var g errgroup.Group
	for lobbyID, evt := range publishes {
		lobbyID, evt := lobbyID, evt
		g.Go(func() error {
			b.Publish(lobbyID, evt)
			return nil
		})
	}
	_ = g.Wait()
}
