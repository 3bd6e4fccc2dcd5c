package event

import (
	"image"
	"time"
)

// State is the debouncer's position in its IDLE/ACTIVE/COOLDOWN cycle.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// TransitionKind tells the caller what, if anything, happened on an Observe.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionOpened
	TransitionClosed
)

// Transition is the debouncer's output for one sample. Episode is non-nil
// for Opened and Closed transitions.
type Transition struct {
	Kind    TransitionKind
	Episode *Episode
}

// DebounceConfig tunes flicker suppression.
type DebounceConfig struct {
	// GraceFrames is the number of consecutive no-motion frames tolerated
	// before an active episode closes. 0 closes on the first quiet frame.
	GraceFrames int
	// Cooldown is how long after a close the machine stays in COOLDOWN.
	// Motion during cooldown opens a fresh episode (the closed one is never
	// reopened); quiet frames let it lapse back to IDLE.
	Cooldown time.Duration
}

// Debouncer converts a per-frame motion signal into discrete episodes.
//
// It is driven strictly by sample arrival order and holds no concurrency
// state: Observe must be called from a single goroutine (the capture loop).
// All timing decisions use sample timestamps, not the wall clock, so the
// machine is deterministic under test.
type Debouncer struct {
	cfg DebounceConfig

	state        State
	active       *Episode
	misses       int       // consecutive quiet frames while ACTIVE
	lastMotionAt time.Time // timestamp of the last Detected sample
	cooldownEnd  time.Time
}

func NewDebouncer(cfg DebounceConfig) *Debouncer {
	return &Debouncer{cfg: cfg}
}

// State returns the current machine state.
func (d *Debouncer) State() State { return d.state }

// Observe advances the machine by one sample.
func (d *Debouncer) Observe(s Sample) Transition {
	switch d.state {
	case StateIdle:
		if s.Detected {
			return d.open(s)
		}

	case StateActive:
		if s.Detected {
			d.extend(s)
			return Transition{Kind: TransitionNone}
		}
		d.misses++
		if d.misses > d.cfg.GraceFrames {
			return d.close(s.Timestamp)
		}

	case StateCooldown:
		if s.Detected {
			// Cooldown is cancelled and folded into a new episode.
			return d.open(s)
		}
		if !s.Timestamp.Before(d.cooldownEnd) {
			d.state = StateIdle
		}
	}
	return Transition{Kind: TransitionNone}
}

// Flush closes any active episode, for use at end-of-stream or shutdown.
func (d *Debouncer) Flush(now time.Time) Transition {
	if d.state != StateActive {
		return Transition{Kind: TransitionNone}
	}
	return d.close(now)
}

func (d *Debouncer) open(s Sample) Transition {
	d.active = newEpisode(s)
	d.state = StateActive
	d.misses = 0
	d.lastMotionAt = s.Timestamp
	return Transition{Kind: TransitionOpened, Episode: d.active}
}

func (d *Debouncer) extend(s Sample) {
	d.misses = 0
	d.lastMotionAt = s.Timestamp
	if s.Score > d.active.PeakScore {
		d.active.PeakScore = s.Score
		d.active.Regions = append([]image.Rectangle(nil), s.Regions...)
	}
}

// close finalizes the active episode. EndedAt is the timestamp of the last
// motion-positive sample, not the moment the grace counter ran out.
func (d *Debouncer) close(now time.Time) Transition {
	ep := d.active
	ep.EndedAt = d.lastMotionAt
	if !ep.EndedAt.After(ep.StartedAt) {
		// Single-frame episode: keep startedAt < endedAt strict.
		ep.EndedAt = ep.StartedAt.Add(time.Nanosecond)
	}
	d.active = nil
	d.state = StateCooldown
	d.cooldownEnd = now.Add(d.cfg.Cooldown)
	d.misses = 0
	return Transition{Kind: TransitionClosed, Episode: ep}
}
