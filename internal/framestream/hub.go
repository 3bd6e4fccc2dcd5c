package framestream

import (
	"sync"
	"sync/atomic"
)

// Hub distributes the newest frame to any number of consumers. It is a
// deliberate single-slot mailbox, not a queue: streaming clients only value
// recency, and a queue under a slow consumer would grow without bound or
// push backpressure onto the capture loop.
//
// Publish is an atomic pointer swap, so it is O(1) regardless of subscriber
// count and a reader always sees either the old frame or the new one whole.
type Hub struct {
	latest atomic.Pointer[Frame]

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	published     atomic.Int64
	droppedWakes  atomic.Int64
	subscriberCnt atomic.Int64
}

// Subscriber is one connected viewer. It owns no frame data, only a wakeup
// channel; the viewer pulls the current frame at its own cadence.
type Subscriber struct {
	// C fires (coalesced) when a new frame is available. A viewer that polls
	// on a timer can ignore it entirely.
	C chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Publish makes f the current frame. It never blocks: wakeups to slow
// subscribers are dropped, which only costs them staleness.
func (h *Hub) Publish(f *Frame) {
	h.latest.Store(f)
	h.published.Add(1)

	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.C <- struct{}{}:
		default:
			h.droppedWakes.Add(1)
		}
	}
	h.mu.Unlock()
}

// Latest returns the current frame, or nil before the first publish.
func (h *Hub) Latest() *Frame {
	return h.latest.Load()
}

// Subscribe registers a viewer.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan struct{}, 1)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.subscriberCnt.Add(1)
	return sub
}

// Unsubscribe removes a viewer. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		h.subscriberCnt.Add(-1)
	}
	h.mu.Unlock()
}

// Stats is a snapshot of the hub counters.
type Stats struct {
	Published      int64
	DroppedWakeups int64
	Subscribers    int64
}

func (h *Hub) Stats() Stats {
	return Stats{
		Published:      h.published.Load(),
		DroppedWakeups: h.droppedWakes.Load(),
		Subscribers:    h.subscriberCnt.Load(),
	}
}
