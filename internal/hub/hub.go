// Package hub fans newly stored events out to live streaming
// subscribers. Events always survive in the store; the hub only
// controls each subscriber's live view.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/logger"
)

// Subscriber is one live streaming connection.
type Subscriber struct {
	ID        string
	ProjectID *int64
	ch        chan *event.Event
	done      chan struct{}
	leaveOnce sync.Once
}

// Events returns the subscriber's delivery channel. It is closed when
// the subscriber is evicted or the hub shuts down; a departing
// consumer that called Unsubscribe itself does not wait for the close.
func (s *Subscriber) Events() <-chan *event.Event {
	return s.ch
}

// left reports whether the subscriber has unsubscribed.
func (s *Subscriber) left() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub owns the subscriber registry and delivers events to it from a
// single goroutine. Publish is a hand-off into that goroutine, so
// producers on other goroutines (the change tracker, request handlers)
// never touch the registry directly. Each subscriber channel is closed
// only from that goroutine; departures signal a per-subscriber done
// channel instead of racing the delivery send with a close.
type Hub struct {
	publishCh      chan *event.Event
	publishTimeout time.Duration
	buffer         int

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

// New creates a hub. publishTimeout bounds both the producer hand-off
// and each per-subscriber delivery attempt; buffer sizes each
// subscriber's queue.
func New(publishTimeout time.Duration, buffer int) *Hub {
	if publishTimeout <= 0 {
		publishTimeout = time.Second
	}
	if buffer <= 0 {
		buffer = 100
	}
	return &Hub{
		publishCh:      make(chan *event.Event, buffer),
		publishTimeout: publishTimeout,
		buffer:         buffer,
		subscribers:    make(map[*Subscriber]struct{}),
	}
}

// Run delivers published events until ctx is cancelled, then closes
// every remaining subscriber.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case ev := <-h.publishCh:
			h.deliver(ev)
		}
	}
}

// Publish hands an event to the delivery goroutine. If the hub cannot
// accept it within the publish timeout the event is dropped from live
// views only; it remains queryable from the store.
func (h *Hub) Publish(ev *event.Event) {
	timer := time.NewTimer(h.publishTimeout)
	defer timer.Stop()

	select {
	case h.publishCh <- ev:
	case <-timer.C:
		logger.Debug().
			Int64("event_id", ev.ID).
			Msg("Dropped event from live delivery")
	}
}

// Subscribe registers a new subscriber, optionally scoped to a project.
func (h *Hub) Subscribe(projectID *int64) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		ch:        make(chan *event.Event, h.buffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	logger.Debug().
		Str("subscriber", sub.ID).
		Int("total", count).
		Msg("Subscriber connected")
	return sub
}

// Unsubscribe removes a subscriber. Safe to call more than once and
// safe to call while a delivery to this subscriber is in flight: it
// signals the subscriber's done channel rather than closing the
// delivery channel, which only the Run goroutine may close.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()

	sub.leaveOnce.Do(func() { close(sub.done) })
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) deliver(ev *event.Event) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.ProjectID != nil {
			if ev.ProjectID == nil || *ev.ProjectID != *sub.ProjectID {
				continue
			}
		}
		if sub.left() {
			continue
		}

		timer := time.NewTimer(h.publishTimeout)
		select {
		case sub.ch <- ev:
			timer.Stop()
		case <-sub.done:
			// unsubscribed mid-delivery
			timer.Stop()
		case <-timer.C:
			// a subscriber that will not drain is dead; the event is
			// only lost from its live view
			logger.Info().
				Str("subscriber", sub.ID).
				Msg("Evicting slow subscriber")
			h.evict(sub)
		}
	}
}

// evict removes a subscriber and closes its channel. Must only be
// called from the Run goroutine.
func (h *Hub) evict(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()

	sub.leaveOnce.Do(func() { close(sub.done) })
	close(sub.ch)
}

// closeAll runs on shutdown, after delivery has stopped. Subscribers
// already evicted or unsubscribed are no longer in the registry, so
// each remaining channel is closed exactly once.
func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.leaveOnce.Do(func() { close(sub.done) })
		close(sub.ch)
	}
}
