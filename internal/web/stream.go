package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mikeyg42/motioncam/internal/framestream"
	"github.com/mikeyg42/motioncam/internal/metrics"
)

const streamBoundary = "frame"

// handleVideoFeed serves the live MJPEG stream. Each client pulls the
// current frame at the configured cadence; a slow client only ever sees
// staleness, never backpressure on the capture loop. Clients may reconnect
// at any time and receive the current frame immediately.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	var lastSeq int64 = -1

	// First frame right away, if one exists yet.
	if f := s.hub.Latest(); f != nil {
		if err := writePart(w, f); err != nil {
			return
		}
		flusher.Flush()
		lastSeq = f.Seq
	}

	interval := time.Second / time.Duration(s.streamFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
		}

		f := s.hub.Latest()
		if f == nil || f.Seq == lastSeq {
			continue
		}
		if err := writePart(w, f); err != nil {
			// Client went away.
			return
		}
		flusher.Flush()
		lastSeq = f.Seq
	}
}

func writePart(w http.ResponseWriter, f *framestream.Frame) error {
	if _, err := fmt.Fprintf(w,
		"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		streamBoundary, len(f.JPEG)); err != nil {
		return err
	}
	if _, err := w.Write(f.JPEG); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
