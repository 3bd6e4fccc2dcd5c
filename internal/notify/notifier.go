// Package notify delivers motion episodes to webhook destinations.
//
// Delivery is fire-and-forget from the capture loop's perspective: Notify
// enqueues onto per-destination bounded queues and returns immediately. Each
// destination has its own worker goroutine, rate limiter, and retry
// schedule, so one slow or failing webhook never affects another or the
// pipeline.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mikeyg42/motioncam/internal/event"
	"github.com/mikeyg42/motioncam/internal/metrics"
	"github.com/mikeyg42/motioncam/internal/snapshot"
)

// Config tunes the dispatcher.
type Config struct {
	// URLs are the webhook destinations. Empty disables notification.
	URLs []string
	// MinInterval is the minimum spacing between notifications per
	// destination; a burst of short episodes collapses to this rate.
	MinInterval time.Duration
	// MaxElapsed bounds the retry schedule for one delivery.
	MaxElapsed time.Duration
	// QueueSize bounds each destination's pending episodes; overflow drops.
	QueueSize int
}

type destination struct {
	url     string
	label   string // host, for logs and metrics
	queue   chan *event.Episode
	limiter *rate.Limiter
}

// Notifier fans episodes out to all configured destinations.
type Notifier struct {
	dests      []*destination
	client     *http.Client
	maxElapsed time.Duration
	log        *zap.SugaredLogger

	mu        sync.Mutex
	accepting bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log *zap.SugaredLogger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		client:     &http.Client{Timeout: 10 * time.Second},
		maxElapsed: cfg.MaxElapsed,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, u := range cfg.URLs {
		label := u
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			label = parsed.Host
		}
		n.dests = append(n.dests, &destination{
			url:     u,
			label:   label,
			queue:   make(chan *event.Episode, cfg.QueueSize),
			limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		})
	}
	return n
}

// Start launches one worker per destination.
func (n *Notifier) Start() {
	n.mu.Lock()
	n.accepting = true
	n.mu.Unlock()

	for _, d := range n.dests {
		n.wg.Add(1)
		go n.worker(d)
	}
}

// Notify enqueues delivery of a finalized (or, under the notify-on-start
// policy, freshly opened) episode to every destination. Never blocks: a full
// queue drops the episode for that destination.
//
// The mutex is held across the enqueue so Stop cannot close a queue between
// the accepting check and the send. The sends are non-blocking, so the
// critical section never waits on a destination.
func (n *Notifier) Notify(ep *event.Episode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.accepting {
		return
	}

	for _, d := range n.dests {
		select {
		case d.queue <- ep:
		default:
			metrics.NotificationsQueueDrops.WithLabelValues(d.label).Inc()
			n.log.Warnw("notification queue full, dropping",
				"destination", d.label, "episode", ep.ID)
		}
	}
}

// Stop drains in-flight deliveries up to grace, then aborts the rest. The
// queues are closed under the same lock that guards Notify's enqueue, so a
// racing Notify either lands before the close or sees accepting=false.
func (n *Notifier) Stop(grace time.Duration) {
	n.mu.Lock()
	if !n.accepting {
		n.mu.Unlock()
		return
	}
	n.accepting = false
	for _, d := range n.dests {
		close(d.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		n.log.Warn("notifier drain grace expired, aborting in-flight deliveries")
		n.cancel()
		<-done
	}
}

func (n *Notifier) worker(d *destination) {
	defer n.wg.Done()

	for ep := range d.queue {
		if err := d.limiter.Wait(n.ctx); err != nil {
			return
		}
		if err := n.deliver(d, ep); err != nil {
			metrics.NotificationsFailed.WithLabelValues(d.label).Inc()
			n.log.Errorw("notification dropped",
				"destination", d.label, "episode", ep.ID, "error", err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues(d.label).Inc()
		n.log.Infow("notification sent", "destination", d.label, "episode", ep.ID)
	}
}

// deliver POSTs one episode, retrying transient failures with backoff.
func (n *Notifier) deliver(d *destination, ep *event.Episode) error {
	body, contentType, err := n.buildPayload(ep)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = n.maxElapsed

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Bad destination or rejected payload: retrying cannot help.
			return backoff.Permanent(fmt.Errorf("webhook rejected: %s", resp.Status))
		default:
			return fmt.Errorf("webhook transient failure: %s", resp.Status)
		}
	}, backoff.WithContext(bo, n.ctx))
}

// buildPayload assembles the multipart body: a short caption with the
// episode timestamp plus, when available, the snapshot image. A snapshot
// path without the canonical prefix is refused outright.
func (n *Notifier) buildPayload(ep *event.Episode) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	caption := fmt.Sprintf("Motion detected at %s", ep.StartedAt.Format(time.RFC1123))
	if err := w.WriteField("content", caption); err != nil {
		return nil, "", err
	}

	if path := ep.Snapshot(); path != "" {
		if !snapshot.Matches(path) {
			return nil, "", fmt.Errorf("refusing attachment outside snapshot namespace: %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			// Snapshot write may have failed; degrade to caption-only.
			n.log.Warnw("snapshot unreadable, sending caption only",
				"episode", ep.ID, "path", path, "error", err)
		} else {
			part, err := w.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(data); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
