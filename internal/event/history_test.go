package event

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func mkEpisode(i int) *Episode {
	start := t0.Add(time.Duration(i) * time.Second)
	return &Episode{
		ID:        fmt.Sprintf("ep-%d", i),
		StartedAt: start,
		EndedAt:   start.Add(500 * time.Millisecond),
		PeakScore: float64(i),
	}
}

func TestHistoryCapacityAndOrder(t *testing.T) {
	const capacity = 5
	h := NewHistory(capacity)

	// One more than capacity: the first appended episode must be gone.
	for i := 0; i < capacity+1; i++ {
		h.Append(mkEpisode(i))
	}

	if got := h.Len(); got != capacity {
		t.Fatalf("len = %d, want %d", got, capacity)
	}

	list := h.List(0)
	if len(list) != capacity {
		t.Fatalf("list returned %d, want %d", len(list), capacity)
	}
	// Newest first: 5, 4, 3, 2, 1. Episode 0 evicted.
	for i, ep := range list {
		want := fmt.Sprintf("ep-%d", capacity-i)
		if ep.ID != want {
			t.Errorf("list[%d] = %s, want %s", i, ep.ID, want)
		}
		if ep.ID == "ep-0" {
			t.Error("evicted episode still present")
		}
	}
}

func TestHistoryListLimit(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 6; i++ {
		h.Append(mkEpisode(i))
	}

	cases := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 6},
		{limit: 3, want: 3},
		{limit: 100, want: 6},
	}
	for _, tc := range cases {
		if got := len(h.List(tc.limit)); got != tc.want {
			t.Errorf("List(%d) returned %d, want %d", tc.limit, got, tc.want)
		}
	}

	if got := h.List(1)[0].ID; got != "ep-5" {
		t.Errorf("List(1)[0] = %s, want newest ep-5", got)
	}
}

func TestHistorySubscribePush(t *testing.T) {
	h := NewHistory(10)
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	ep := mkEpisode(1)
	h.Append(ep)

	select {
	case got := <-ch:
		if got.ID != ep.ID {
			t.Errorf("pushed %s, want %s", got.ID, ep.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no push received")
	}
}

func TestHistorySlowSubscriberDoesNotBlockAppend(t *testing.T) {
	h := NewHistory(4)
	ch := h.Subscribe() // never drained beyond its buffer
	defer h.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Append(mkEpisode(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a stalled subscriber")
	}
}

func TestHistoryConcurrentReaders(t *testing.T) {
	h := NewHistory(8)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Append(mkEpisode(i))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				list := h.List(0)
				if len(list) > h.Capacity() {
					t.Errorf("snapshot larger than capacity: %d", len(list))
					return
				}
				// A consistent snapshot is strictly newest-first.
				for i := 1; i < len(list); i++ {
					if list[i].StartedAt.After(list[i-1].StartedAt) {
						t.Error("snapshot not newest-first; reader saw a mid-shift buffer")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
