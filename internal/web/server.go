// Package web provides the HTTP surface: the live MJPEG stream, the
// websocket event feed, the event/config APIs, and snapshot serving.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/event"
	"github.com/mikeyg42/motioncam/internal/framestream"
	"github.com/mikeyg42/motioncam/internal/metrics"
	"github.com/mikeyg42/motioncam/internal/snapshot"
)

// DetectorTuner is the runtime-tunable slice of the motion detector.
type DetectorTuner interface {
	SetTuning(sensitivity, minArea int)
	Tuning() (sensitivity, minArea int)
}

// SubjectTargets is the runtime-tunable target-subject filter.
type SubjectTargets interface {
	SetTargets(targets []string)
	Targets() []string
}

// Options configures the server.
type Options struct {
	Addr      string
	StreamFPS int
}

// Server is the HTTP API and streaming server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux

	hub     *framestream.Hub
	history *event.History
	store   *snapshot.Store
	tuner   DetectorTuner
	targets SubjectTargets

	streamFPS int
	log       *zap.SugaredLogger

	// shutdown is closed by Shutdown so long-lived handlers (MJPEG,
	// websocket) return promptly; http.Server.Shutdown alone only waits for
	// them.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer wires all routes.
func NewServer(opts Options, hub *framestream.Hub, history *event.History,
	store *snapshot.Store, tuner DetectorTuner, targets SubjectTargets,
	log *zap.SugaredLogger) *Server {

	s := &Server{
		mux:       http.NewServeMux(),
		hub:       hub,
		history:   history,
		store:     store,
		tuner:     tuner,
		targets:   targets,
		streamFPS: opts.StreamFPS,
		log:       log,
		shutdown:  make(chan struct{}),
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/video_feed", s.handleVideoFeed)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/frames/", s.handleFrame)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: corsMiddleware(s.mux),
		// No global write timeout: /video_feed and /ws are long-lived.
		// Handlers that should not hang set their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
	return s
}

// StartInBackground starts serving in a goroutine.
func (s *Server) StartInBackground() {
	go func() {
		s.log.Infow("web server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("web server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server. Streaming handlers are signalled
// first so they stop writing and let Shutdown see idle connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>motioncam</title></head>
<body>
<h1>motioncam</h1>
<img src="/video_feed" alt="live stream" />
<p>Events: <a href="/api/events">/api/events</a> &middot; live feed over <code>/ws</code></p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}
