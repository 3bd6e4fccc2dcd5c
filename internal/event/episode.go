// Package event holds the motion episode model: the per-frame sample type,
// the debouncer state machine that turns samples into discrete episodes, and
// the bounded history of finalized episodes.
package event

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sample is the per-frame result of motion detection. It is transient: it is
// not retained beyond the frame that produced it except inside an in-flight
// episode.
type Sample struct {
	Timestamp time.Time
	Detected  bool
	Regions   []image.Rectangle // ordered largest-first
	Score     float64           // area of the largest surviving region
}

// Episode is a single contiguous motion event. It is created by the debouncer
// on the IDLE->ACTIVE transition, mutated (only by the debouncer) while
// active, and immutable once closed, except for the snapshot path, which is
// filled in asynchronously by the snapshot writer and so is guarded by its
// own mutex.
type Episode struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time // zero while active
	PeakScore float64
	Regions   []image.Rectangle // regions at peak score

	mu       sync.Mutex
	snapshot string
}

func newEpisode(s Sample) *Episode {
	return &Episode{
		ID:        uuid.New().String(),
		StartedAt: s.Timestamp,
		PeakScore: s.Score,
		Regions:   append([]image.Rectangle(nil), s.Regions...),
	}
}

// Closed reports whether the episode has been finalized.
func (e *Episode) Closed() bool {
	return !e.EndedAt.IsZero()
}

// Duration is zero while the episode is still active.
func (e *Episode) Duration() time.Duration {
	if !e.Closed() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// SetSnapshot records the on-disk snapshot path. Called from the snapshot
// writer goroutine; safe to race with readers.
func (e *Episode) SetSnapshot(path string) {
	e.mu.Lock()
	e.snapshot = path
	e.mu.Unlock()
}

// Snapshot returns the snapshot path, or "" if no snapshot was written.
func (e *Episode) Snapshot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}
