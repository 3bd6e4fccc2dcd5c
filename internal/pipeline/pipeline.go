// Package pipeline wires capture, detection, debouncing, and fan-out into
// one sequential loop and owns component lifecycles.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/event"
	"github.com/mikeyg42/motioncam/internal/framestream"
	"github.com/mikeyg42/motioncam/internal/metrics"
)

// Source is the frame producer contract (satisfied by *camera.Source).
type Source interface {
	Next(ctx context.Context) (camera.Capture, error)
	Close() error
}

// Detector is the per-frame motion detection contract (satisfied by
// *motion.Detector).
type Detector interface {
	Detect(mat gocv.Mat, ts time.Time) (event.Sample, error)
	SetFrozen(frozen bool)
	Reset()
}

// SnapshotStore persists episode stills.
type SnapshotStore interface {
	Save(jpeg []byte, ts time.Time) (string, error)
}

// EpisodeSink receives episodes for outbound notification.
type EpisodeSink interface {
	Notify(ep *event.Episode)
}

// Config assembles a Pipeline.
type Config struct {
	// OpenSource acquires the frame source; also used to re-open after loss.
	OpenSource func() (Source, error)
	Detector   Detector
	Debouncer  *event.Debouncer
	Hub        *framestream.Hub
	History    *event.History
	Snapshots  SnapshotStore
	Notifier   EpisodeSink

	// NotifyOn selects the episode lifecycle point that triggers
	// notification: config.NotifyOnStart or config.NotifyOnClose.
	NotifyOn    string
	JPEGQuality int
	// ReopenOnLoss re-opens a lost device source with backoff instead of
	// terminating. File sources always terminate at end of stream.
	ReopenOnLoss bool

	Log *zap.SugaredLogger
}

// Pipeline runs the capture loop. The loop is the sole writer of detector
// and debouncer state and must never be parallelized across frames; all
// fan-out targets are non-blocking or offloaded to background goroutines.
type Pipeline struct {
	cfg Config
	log *zap.SugaredLogger

	src Source

	running   atomic.Bool
	stopGrace time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:       cfg,
		log:       cfg.Log,
		stopGrace: 5 * time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start opens the source and launches the capture loop. An unavailable
// source fails here, before any downstream component is touched.
func (p *Pipeline) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	src, err := p.cfg.OpenSource()
	if err != nil {
		p.running.Store(false)
		return err
	}
	p.src = src

	p.wg.Add(1)
	go p.run()
	p.log.Info("capture pipeline started")
	return nil
}

// Stop signals the loop, waits up to a bounded grace period, and releases
// the source. The source is closed even when the loop misses the grace
// period (a device read stuck in native code ignores the context); closing
// the capture is what unblocks it.
func (p *Pipeline) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("capture pipeline stopped")
	case <-time.After(p.stopGrace):
		p.log.Warn("capture pipeline stop timed out, closing source to unblock")
	}

	if p.src != nil {
		if err := p.src.Close(); err != nil {
			p.log.Warnw("source close failed", "error", err)
		}
	}
}

// Done is closed when the loop has exited (end of stream, unrecoverable
// loss, or Stop).
func (p *Pipeline) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	defer p.cancel()

	for {
		cap, err := p.src.Next(p.ctx)
		if err != nil {
			switch {
			case p.ctx.Err() != nil || errors.Is(err, context.Canceled):
				p.flush(time.Now())
				return

			case errors.Is(err, camera.ErrEndOfStream):
				p.log.Info("source exhausted")
				p.flush(time.Now())
				return

			case errors.Is(err, camera.ErrSourceLost):
				p.log.Errorw("source lost", "error", err)
				if !p.cfg.ReopenOnLoss {
					p.flush(time.Now())
					return
				}
				if !p.reopen() {
					p.flush(time.Now())
					return
				}
				continue

			default:
				p.log.Warnw("frame read failed", "error", err)
				continue
			}
		}

		p.step(cap)
	}
}

// step runs one frame through detect -> publish -> debounce.
func (p *Pipeline) step(cap camera.Capture) {
	metrics.FramesCaptured.Inc()

	sample, err := p.cfg.Detector.Detect(cap.Mat, cap.Time)
	if err != nil {
		// A bad frame is skipped; the reference frame stays unchanged.
		metrics.FramesSkipped.Inc()
		p.log.Debugw("detection failed, skipping frame", "seq", cap.Seq, "error", err)
		return
	}

	frame, err := cap.EncodeJPEG(p.cfg.JPEGQuality)
	if err != nil {
		metrics.FramesSkipped.Inc()
		p.log.Warnw("frame encode failed", "seq", cap.Seq, "error", err)
	} else {
		p.cfg.Hub.Publish(frame)
	}

	p.apply(p.cfg.Debouncer.Observe(sample), frame)
}

// apply performs the side effects of a debouncer transition. Snapshot writes
// are offloaded; history append and notification enqueue are non-blocking.
func (p *Pipeline) apply(tr event.Transition, frame *framestream.Frame) {
	switch tr.Kind {
	case event.TransitionOpened:
		ep := tr.Episode
		metrics.EpisodesOpened.Inc()
		// Freeze the reference so the subject is not absorbed into the
		// background while the episode runs.
		p.cfg.Detector.SetFrozen(true)
		p.log.Infow("episode opened", "episode", ep.ID, "score", ep.PeakScore)

		if frame != nil {
			if p.cfg.NotifyOn == config.NotifyOnStart {
				// Write inline so the alert below carries the image.
				p.writeSnapshot(ep, frame)
			} else {
				p.wg.Add(1)
				go p.saveSnapshot(ep, frame)
			}
		}
		if p.cfg.NotifyOn == config.NotifyOnStart && p.cfg.Notifier != nil {
			p.cfg.Notifier.Notify(ep)
		}

	case event.TransitionClosed:
		ep := tr.Episode
		metrics.EpisodesClosed.Inc()
		p.cfg.Detector.SetFrozen(false)
		p.cfg.History.Append(ep)
		p.log.Infow("episode closed",
			"episode", ep.ID,
			"duration", ep.Duration(),
			"peak_score", ep.PeakScore,
			"regions", len(ep.Regions))

		if p.cfg.NotifyOn == config.NotifyOnClose && p.cfg.Notifier != nil {
			p.cfg.Notifier.Notify(ep)
		}
	}
}

// flush closes any active episode at shutdown or end of stream.
func (p *Pipeline) flush(now time.Time) {
	p.apply(p.cfg.Debouncer.Flush(now), nil)
}

func (p *Pipeline) saveSnapshot(ep *event.Episode, frame *framestream.Frame) {
	defer p.wg.Done()
	p.writeSnapshot(ep, frame)
}

func (p *Pipeline) writeSnapshot(ep *event.Episode, frame *framestream.Frame) {
	path, err := p.cfg.Snapshots.Save(frame.JPEG, frame.Timestamp)
	if err != nil {
		// Episode stays in history without a snapshot reference.
		metrics.SnapshotFailures.Inc()
		p.log.Warnw("snapshot write failed", "episode", ep.ID, "error", err)
		return
	}
	ep.SetSnapshot(path)
}

// reopen replaces a lost source, retrying with exponential backoff until it
// succeeds or the pipeline is stopped.
func (p *Pipeline) reopen() bool {
	if err := p.src.Close(); err != nil {
		p.log.Debugw("close of lost source failed", "error", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // keep trying until stopped

	for {
		select {
		case <-p.ctx.Done():
			return false
		case <-time.After(bo.NextBackOff()):
		}

		src, err := p.cfg.OpenSource()
		if err != nil {
			p.log.Warnw("source re-open failed, will retry", "error", err)
			continue
		}
		p.src = src
		// Fresh device, stale background: re-prime the reference.
		p.cfg.Detector.Reset()
		metrics.SourceReopens.Inc()
		p.log.Info("source re-opened")
		return true
	}
}
