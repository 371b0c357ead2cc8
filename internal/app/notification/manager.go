// Package notification provides the replay-latest broadcast of playback
// snapshots and the history event stream.
package notification

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
)

// EventBufferSize is the per-subscriber history event buffer.
const EventBufferSize = 64

// Subscription receives playback snapshots. The channel always holds at
// most one value: the newest snapshot the subscriber has not read yet.
type Subscription struct {
	ID string
	ch chan playback.Snapshot
	m  *Manager
}

// C returns the snapshot channel. It is closed on Close or when the
// manager shuts down.
func (s *Subscription) C() <-chan playback.Snapshot {
	return s.ch
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.m.Unsubscribe(s.ID)
}

// EventSubscription receives history events.
type EventSubscription struct {
	ID string
	ch chan playback.Event
	m  *Manager
}

// C returns the event channel.
func (s *EventSubscription) C() <-chan playback.Event {
	return s.ch
}

// Close ends the subscription.
func (s *EventSubscription) Close() {
	s.m.Unsubscribe(s.ID)
}

// Manager holds the latest snapshot and fans it out to subscribers.
// All writes are serialized, so every subscriber observes snapshots in
// write order with non-decreasing timestamps. Writers never block on
// slow subscribers.
type Manager struct {
	mu         sync.Mutex
	clock      clock.Clock
	latest     playback.Snapshot
	snapshots  map[string]*Subscription
	events     map[string]*EventSubscription
	sequenceNo uint64
	closed     bool
}

// NewManager creates a new notification manager holding the idle snapshot.
func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	latest := playback.Idle()
	latest.TimestampMS = clk.Now().UnixMilli()
	return &Manager{
		clock:     clk,
		latest:    latest,
		snapshots: make(map[string]*Subscription),
		events:    make(map[string]*EventSubscription),
	}
}

// Update applies fn to a copy of the latest snapshot, normalizes and
// stamps the result, stores it and broadcasts it. It returns the stored
// snapshot.
func (m *Manager) Update(fn func(*playback.Snapshot)) playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.latest.Clone()
	fn(&next)
	next.Normalize()

	now := m.clock.Now().UnixMilli()
	if now < m.latest.TimestampMS {
		now = m.latest.TimestampMS
	}
	next.TimestampMS = now
	m.latest = next

	if m.closed {
		return next
	}
	for _, sub := range m.snapshots {
		offer(sub.ch, next.Clone())
	}
	return next
}

// offer replaces any unread value in ch with s.
// Must be called with the manager lock held; the manager is the only sender.
func offer(ch chan playback.Snapshot, s playback.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Latest returns the latest snapshot.
func (m *Manager) Latest() playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest.Clone()
}

// Subscribe registers a snapshot subscriber. The latest snapshot is
// available on the channel immediately.
func (m *Manager) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &Subscription{
		ID: uuid.New().String(),
		ch: make(chan playback.Snapshot, 1),
		m:  m,
	}
	sub.ch <- m.latest.Clone()
	if m.closed {
		close(sub.ch)
		return sub
	}
	m.snapshots[sub.ID] = sub
	return sub
}

// SubscribeEvents registers a history event subscriber. Events are not
// replayed; only events emitted after subscribing are delivered.
func (m *Manager) SubscribeEvents() *EventSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &EventSubscription{
		ID: uuid.New().String(),
		ch: make(chan playback.Event, EventBufferSize),
		m:  m,
	}
	if m.closed {
		close(sub.ch)
		return sub
	}
	m.events[sub.ID] = sub
	return sub
}

// Emit stamps e and delivers it to every event subscriber. A subscriber
// whose buffer is full misses the event.
func (m *Manager) Emit(e playback.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.sequenceNo++
	e.Seq = m.sequenceNo
	if e.AtMS == 0 {
		e.AtMS = m.clock.Now().UnixMilli()
	}
	for id, sub := range m.events {
		select {
		case sub.ch <- e:
		default:
			zlog.Warn().Msgf("notification: event dropped: subscription_id=%s type=%s seq=%d", id, e.Type, e.Seq)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.snapshots[subscriptionID]; ok {
		delete(m.snapshots, subscriptionID)
		close(sub.ch)
	}
	if sub, ok := m.events[subscriptionID]; ok {
		delete(m.events, subscriptionID)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active snapshot subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// Close closes every subscription. Later updates are stored but not broadcast.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.snapshots {
		close(sub.ch)
		delete(m.snapshots, id)
	}
	for id, sub := range m.events {
		close(sub.ch)
		delete(m.events, id)
	}
}
