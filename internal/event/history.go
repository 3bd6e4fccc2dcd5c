package event

import (
	"sync"
)

// History is a fixed-capacity ring of finalized episodes. Append is called
// only from the capture loop (single writer); List and the subscriber set
// are safe for concurrent use from any number of readers.
type History struct {
	mu       sync.Mutex
	buf      []*Episode
	capacity int
	writeIdx int
	count    int
	subs     map[chan *Episode]struct{}
}

// DefaultCapacity matches the original recent-events window.
const DefaultCapacity = 100

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		buf:      make([]*Episode, capacity),
		capacity: capacity,
		subs:     make(map[chan *Episode]struct{}),
	}
}

// Append records a finalized episode, evicting the oldest entry when full.
// Eviction and insertion happen under one critical section, so readers never
// observe a partially shifted buffer.
func (h *History) Append(ep *Episode) {
	h.mu.Lock()
	h.buf[h.writeIdx] = ep
	h.writeIdx = (h.writeIdx + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
	for ch := range h.subs {
		// Non-blocking: a stalled subscriber misses updates rather than
		// stalling the capture loop.
		select {
		case ch <- ep:
		default:
		}
	}
	h.mu.Unlock()
}

// List returns up to limit episodes, newest first. limit <= 0 means all.
func (h *History) List(limit int) []*Episode {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Episode, n)
	for i := 0; i < n; i++ {
		idx := (h.writeIdx - 1 - i + h.capacity) % h.capacity
		out[i] = h.buf[idx]
	}
	return out
}

// Len returns the number of stored episodes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Capacity returns the ring size.
func (h *History) Capacity() int { return h.capacity }

// Subscribe returns a channel receiving every episode appended after the
// call. The channel is buffered; slow consumers drop updates.
func (h *History) Subscribe() chan *Episode {
	ch := make(chan *Episode, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *History) Unsubscribe(ch chan *Episode) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}
