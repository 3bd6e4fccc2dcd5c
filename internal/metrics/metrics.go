// Package metrics exposes Prometheus collectors for the capture pipeline.
// Collectors are registered once via Register; Handler serves them.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from the source.",
	})
	FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "capture",
		Name:      "frames_skipped_total",
		Help:      "Frames dropped due to detection or encode failures.",
	})
	SourceReopens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "capture",
		Name:      "source_reopens_total",
		Help:      "Times the frame source was re-opened after loss.",
	})
	EpisodesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "motion",
		Name:      "episodes_opened_total",
		Help:      "Motion episodes opened.",
	})
	EpisodesClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "motion",
		Name:      "episodes_closed_total",
		Help:      "Motion episodes finalized.",
	})
	SnapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "snapshot",
		Name:      "write_failures_total",
		Help:      "Snapshot writes that failed.",
	})
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Webhook notifications delivered.",
	}, []string{"destination"})
	NotificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "notify",
		Name:      "failed_total",
		Help:      "Webhook notifications dropped after exhausting retries.",
	}, []string{"destination"})
	NotificationsQueueDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motioncam",
		Subsystem: "notify",
		Name:      "queue_drops_total",
		Help:      "Notifications dropped because a destination queue was full.",
	}, []string{"destination"})
	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "motioncam",
		Subsystem: "web",
		Name:      "stream_clients",
		Help:      "Connected MJPEG stream clients.",
	})
	EventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "motioncam",
		Subsystem: "web",
		Name:      "event_clients",
		Help:      "Connected websocket event clients.",
	})
)

// Register installs all collectors on the default registry. Safe to call
// more than once.
func Register() {
	if !regOK.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		FramesCaptured,
		FramesSkipped,
		SourceReopens,
		EpisodesOpened,
		EpisodesClosed,
		SnapshotFailures,
		NotificationsSent,
		NotificationsFailed,
		NotificationsQueueDrops,
		StreamClients,
		EventClients,
	)
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
