// Package vpn provides VPN connection management functionality.
// This file contains the Hub which fans state and log events out to
// observers.
package vpn

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Observer receives the notifications published by supervisors.
// Both methods run on the subscription's own delivery goroutine, never on
// the publisher's goroutine.
type Observer interface {
	OnStateChanged(StateEvent)
	OnLog(LogEvent)
}

// ObserverFuncs adapts plain functions to the Observer interface.
// Nil fields are skipped.
type ObserverFuncs struct {
	State func(StateEvent)
	Log   func(LogEvent)
}

// OnStateChanged calls f.State.
func (f ObserverFuncs) OnStateChanged(e StateEvent) {
	if f.State != nil {
		f.State(e)
	}
}

// OnLog calls f.Log.
func (f ObserverFuncs) OnLog(e LogEvent) {
	if f.Log != nil {
		f.Log(e)
	}
}

// hubEvent is one queued notification. Exactly one of the fields is set.
type hubEvent struct {
	state *StateEvent
	log   *LogEvent
	// flush is closed by the delivery loop when it reaches the marker.
	flush chan struct{}
}

// Subscription is the handle of one registered observer.
type Subscription struct {
	id       string
	hub      *Hub
	observer Observer

	mu     sync.Mutex
	queue  []hubEvent
	closed bool

	wake chan struct{}
	done chan struct{}
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Close unsubscribes the observer. It is safe to call more than once
// and from inside an observer callback.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Drain waits until every event queued before the call has been
// delivered and its callback has returned. It must not be called from the
// observer's own callback. A closed subscription drains immediately.
func (s *Subscription) Drain(ctx context.Context) error {
	marker := make(chan struct{})
	s.push(hubEvent{flush: marker})

	select {
	case <-marker:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of events queued but not yet delivered.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// push appends an event to the mailbox without blocking.
func (s *Subscription) push(ev hubEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest event. ok is false when the mailbox is empty or
// the subscription has been torn down.
func (s *Subscription) next() (hubEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return hubEvent{}, false
	}
	ev := s.queue[0]
	s.queue[0] = hubEvent{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return ev, true
}

// shutdown marks the subscription closed and drops pending events.
// It reports whether this call performed the teardown.
func (s *Subscription) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}

// run is the delivery loop, the execution context of the observer.
func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			switch {
			case ev.state != nil:
				s.observer.OnStateChanged(*ev.state)
			case ev.log != nil:
				s.observer.OnLog(*ev.log)
			case ev.flush != nil:
				close(ev.flush)
			}
		}
	}
}

// Hub delivers StateEvents and LogEvents to every live subscription.
// Publishing never blocks on observers; each subscription has an
// unbounded FIFO mailbox drained by its own goroutine, so a subscriber
// sees events in publish order across both kinds.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers an observer and starts its delivery goroutine.
// Subscribing to a closed hub returns a subscription that never delivers.
func (h *Hub) Subscribe(o Observer) *Subscription {
	s := &Subscription{
		id:       uuid.NewString(),
		hub:      h,
		observer: o,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.shutdown()
		return s
	}
	h.subs[s.id] = s
	go s.run()
	return s
}

// Unsubscribe removes a subscription. Events still queued for it are
// dropped. It does not wait for a callback that is already running, so
// it may be called from inside one. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.shutdown()
}

// PublishState queues a state change for every subscriber.
func (h *Hub) PublishState(e StateEvent) {
	h.publish(hubEvent{state: &e})
}

// PublishLog queues a log event for every subscriber.
func (h *Hub) PublishLog(e LogEvent) {
	h.publish(hubEvent{log: &e})
}

func (h *Hub) publish(ev hubEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		s.push(ev)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close tears down every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}
