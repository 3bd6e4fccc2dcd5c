// Command motioncam runs the capture/detect/broadcast pipeline with its web
// and notification surfaces.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/event"
	"github.com/mikeyg42/motioncam/internal/framestream"
	"github.com/mikeyg42/motioncam/internal/metrics"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/notify"
	"github.com/mikeyg42/motioncam/internal/pipeline"
	"github.com/mikeyg42/motioncam/internal/snapshot"
	"github.com/mikeyg42/motioncam/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("motioncam exited with error", "error", err)
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, sugar *zap.SugaredLogger) error {
	metrics.Register()

	store, err := snapshot.NewStore(cfg.Snapshot.Dir, sugar.Named("snapshot"))
	if err != nil {
		return err
	}
	if err := store.StartRetention(cfg.Snapshot.SweepSchedule, cfg.Snapshot.RetentionAge); err != nil {
		return err
	}
	defer store.StopRetention()

	// The subject classifier is a plug-in point; without one the filter
	// passes all regions through.
	filter := motion.NewSubjectFilter(nil, cfg.Detection.TargetSubjects)
	detector := motion.NewDetector(motion.Config{
		Sensitivity: cfg.Detection.Sensitivity,
		MinArea:     cfg.Detection.MinArea,
		BlendAlpha:  cfg.Detection.BlendAlpha,
		Filter:      filter,
	})
	defer detector.Close()

	debouncer := event.NewDebouncer(event.DebounceConfig{
		GraceFrames: cfg.Debounce.GraceFrames,
		Cooldown:    cfg.Debounce.Cooldown,
	})
	hub := framestream.NewHub()
	history := event.NewHistory(cfg.History.Capacity)

	notifier := notify.New(notify.Config{
		URLs:        cfg.Notify.WebhookURLs,
		MinInterval: cfg.Notify.MinInterval,
		MaxElapsed:  cfg.Notify.MaxElapsed,
		QueueSize:   cfg.Notify.QueueSize,
	}, sugar.Named("notify"))
	notifier.Start()
	if len(cfg.Notify.WebhookURLs) == 0 {
		sugar.Info("no webhook destinations configured; notifications disabled")
	}

	spec := camera.Spec{Device: cfg.Source.CameraIndex, Path: cfg.Source.VideoPath}
	pipe := pipeline.New(pipeline.Config{
		OpenSource: func() (pipeline.Source, error) {
			return camera.Open(spec)
		},
		Detector:     detector,
		Debouncer:    debouncer,
		Hub:          hub,
		History:      history,
		Snapshots:    store,
		Notifier:     notifier,
		NotifyOn:     cfg.Notify.On,
		JPEGQuality:  cfg.Stream.JPEGQuality,
		ReopenOnLoss: !spec.IsFile(),
		Log:          sugar.Named("pipeline"),
	})
	if err := pipe.Start(); err != nil {
		// Source unavailable is fatal at startup; nothing downstream ran.
		notifier.Stop(time.Second)
		return err
	}

	server := web.NewServer(web.Options{
		Addr:      cfg.Web.Addr(),
		StreamFPS: cfg.Stream.FPS,
	}, hub, history, store, detector, filter, sugar.Named("web"))
	server.StartInBackground()

	sugar.Infow("motioncam running",
		"source", spec.String(),
		"addr", cfg.Web.Addr(),
		"notify_on", cfg.Notify.On)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown signal received")
	case <-pipe.Done():
		sugar.Info("capture pipeline finished")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("web server shutdown failed", "error", err)
	}
	pipe.Stop()
	notifier.Stop(10 * time.Second)
	return nil
}
