package event

import (
	"image"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const frameInterval = 100 * time.Millisecond

// feed runs a boolean motion pattern through a debouncer at a fixed frame
// cadence and returns the opened and closed episodes in order.
func feed(d *Debouncer, pattern []bool) (opened, closed []*Episode) {
	for i, motion := range pattern {
		s := Sample{
			Timestamp: t0.Add(time.Duration(i) * frameInterval),
			Detected:  motion,
		}
		if motion {
			s.Score = 1000
			s.Regions = []image.Rectangle{image.Rect(0, 0, 10, 10)}
		}
		tr := d.Observe(s)
		switch tr.Kind {
		case TransitionOpened:
			opened = append(opened, tr.Episode)
		case TransitionClosed:
			closed = append(closed, tr.Episode)
		}
	}
	return opened, closed
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]bool) []bool {
	var out []bool
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestSingleFrameEpisodeWithZeroGrace(t *testing.T) {
	d := NewDebouncer(DebounceConfig{GraceFrames: 0, Cooldown: time.Second})

	opened, closed := feed(d, concat(repeat(false, 3), []bool{true}, repeat(false, 3)))

	if len(opened) != 1 || len(closed) != 1 {
		t.Fatalf("opened=%d closed=%d, want 1 and 1", len(opened), len(closed))
	}
	ep := closed[0]
	if !ep.EndedAt.After(ep.StartedAt) {
		t.Errorf("startedAt %v not before endedAt %v", ep.StartedAt, ep.EndedAt)
	}
	if got := ep.Duration(); got > frameInterval {
		t.Errorf("single-frame episode duration %v exceeds one frame", got)
	}
}

func TestFlickerWithinGraceIsOneEpisode(t *testing.T) {
	// Alternating true/false never accumulates enough consecutive quiet
	// frames to close, so a flickering signal stays one episode.
	d := NewDebouncer(DebounceConfig{GraceFrames: 2, Cooldown: time.Second})

	pattern := concat(
		[]bool{true, false, true, false, true, false, true},
		repeat(false, 5),
	)
	opened, closed := feed(d, pattern)

	if len(opened) != 1 {
		t.Fatalf("opened %d episodes, want 1", len(opened))
	}
	if len(closed) != 1 {
		t.Fatalf("closed %d episodes, want 1", len(closed))
	}
}

func TestBurstScenario(t *testing.T) {
	// 50 quiet frames, a 10-frame burst, 50 quiet frames: exactly one
	// episode spanning the burst.
	d := NewDebouncer(DebounceConfig{GraceFrames: 3, Cooldown: 2 * time.Second})

	opened, closed := feed(d, concat(repeat(false, 50), repeat(true, 10), repeat(false, 50)))

	if len(opened) != 1 || len(closed) != 1 {
		t.Fatalf("opened=%d closed=%d, want 1 and 1", len(opened), len(closed))
	}
	ep := closed[0]
	wantStart := t0.Add(50 * frameInterval)
	wantEnd := t0.Add(59 * frameInterval)
	if !ep.StartedAt.Equal(wantStart) {
		t.Errorf("startedAt = %v, want %v", ep.StartedAt, wantStart)
	}
	if !ep.EndedAt.Equal(wantEnd) {
		t.Errorf("endedAt = %v, want %v (last motion-positive sample)", ep.EndedAt, wantEnd)
	}
}

func TestGapWithinGraceMerges(t *testing.T) {
	// Two bursts separated by a gap shorter than the grace window fold into
	// one episode instead of fragmenting.
	d := NewDebouncer(DebounceConfig{GraceFrames: 5, Cooldown: time.Second})

	pattern := concat(repeat(true, 4), repeat(false, 3), repeat(true, 4), repeat(false, 10))
	opened, closed := feed(d, pattern)

	if len(opened) != 1 || len(closed) != 1 {
		t.Fatalf("opened=%d closed=%d, want 1 and 1", len(opened), len(closed))
	}
}

func TestMotionDuringCooldownOpensNewEpisode(t *testing.T) {
	// Long cooldown relative to the frame cadence: the second burst lands
	// inside COOLDOWN and must open a fresh episode, never reopen the
	// closed one.
	d := NewDebouncer(DebounceConfig{GraceFrames: 0, Cooldown: time.Minute})

	pattern := concat(repeat(true, 3), repeat(false, 2), repeat(true, 3), repeat(false, 2))
	opened, closed := feed(d, pattern)

	if len(opened) != 2 || len(closed) != 2 {
		t.Fatalf("opened=%d closed=%d, want 2 and 2", len(opened), len(closed))
	}
	if opened[0].ID == opened[1].ID {
		t.Error("second burst reused the closed episode")
	}
	if !closed[0].Closed() || !closed[1].Closed() {
		t.Error("emitted episodes must be finalized")
	}
}

func TestCooldownLapsesToIdle(t *testing.T) {
	d := NewDebouncer(DebounceConfig{GraceFrames: 0, Cooldown: 300 * time.Millisecond})

	// Burst, then enough quiet frames to pass the cooldown horizon.
	feed(d, concat(repeat(true, 2), repeat(false, 10)))

	if got := d.State(); got != StateIdle {
		t.Errorf("state = %v, want idle after cooldown elapsed", got)
	}
}

func TestEpisodesNeverOverlap(t *testing.T) {
	patterns := map[string][]bool{
		"alternating":  {true, false, true, false, true, false, true, false},
		"two bursts":   concat(repeat(true, 5), repeat(false, 8), repeat(true, 5), repeat(false, 8)),
		"long quiet":   concat(repeat(false, 30), repeat(true, 2), repeat(false, 30)),
		"solid motion": repeat(true, 40),
	}

	for name, pattern := range patterns {
		t.Run(name, func(t *testing.T) {
			d := NewDebouncer(DebounceConfig{GraceFrames: 1, Cooldown: 200 * time.Millisecond})
			opened, closed := feed(d, pattern)

			// Episode count equals IDLE->ACTIVE (and COOLDOWN->ACTIVE)
			// transitions; every close matches a prior open.
			if len(closed) > len(opened) {
				t.Fatalf("closed %d > opened %d", len(closed), len(opened))
			}
			for i := 1; i < len(closed); i++ {
				if closed[i].StartedAt.Before(closed[i-1].EndedAt) {
					t.Errorf("episode %d starts %v before previous ended %v",
						i, closed[i].StartedAt, closed[i-1].EndedAt)
				}
			}
			for _, ep := range closed {
				if !ep.StartedAt.Before(ep.EndedAt) {
					t.Errorf("episode %s: startedAt %v !< endedAt %v", ep.ID, ep.StartedAt, ep.EndedAt)
				}
			}
		})
	}
}

func TestPeakTracking(t *testing.T) {
	d := NewDebouncer(DebounceConfig{GraceFrames: 0, Cooldown: time.Second})

	scores := []float64{600, 1500, 900}
	regions := [][]image.Rectangle{
		{image.Rect(0, 0, 20, 30)},
		{image.Rect(5, 5, 45, 40)},
		{image.Rect(2, 2, 30, 32)},
	}

	var closedEp *Episode
	for i, score := range scores {
		tr := d.Observe(Sample{
			Timestamp: t0.Add(time.Duration(i) * frameInterval),
			Detected:  true,
			Score:     score,
			Regions:   regions[i],
		})
		if i == 0 && tr.Kind != TransitionOpened {
			t.Fatalf("first sample did not open an episode")
		}
	}
	tr := d.Observe(Sample{Timestamp: t0.Add(3 * frameInterval)})
	if tr.Kind != TransitionClosed {
		t.Fatalf("expected close, got %v", tr.Kind)
	}
	closedEp = tr.Episode

	if closedEp.PeakScore != 1500 {
		t.Errorf("peakScore = %v, want 1500", closedEp.PeakScore)
	}
	if len(closedEp.Regions) != 1 || closedEp.Regions[0] != regions[1][0] {
		t.Errorf("regions = %v, want regions at peak %v", closedEp.Regions, regions[1])
	}
}

func TestFlushClosesActiveEpisode(t *testing.T) {
	d := NewDebouncer(DebounceConfig{GraceFrames: 5, Cooldown: time.Second})

	opened, _ := feed(d, repeat(true, 4))
	if len(opened) != 1 {
		t.Fatalf("opened %d episodes, want 1", len(opened))
	}

	tr := d.Flush(t0.Add(time.Hour))
	if tr.Kind != TransitionClosed {
		t.Fatalf("flush kind = %v, want closed", tr.Kind)
	}
	if !tr.Episode.Closed() {
		t.Error("flushed episode not finalized")
	}

	// Flushing with nothing active is a no-op.
	if tr := d.Flush(t0.Add(2 * time.Hour)); tr.Kind != TransitionNone {
		t.Errorf("second flush kind = %v, want none", tr.Kind)
	}
}
