// Package config holds the application configuration surface.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Detection DetectionConfig `mapstructure:"detection"`
	Debounce  DebounceConfig  `mapstructure:"debounce"`
	History   HistoryConfig   `mapstructure:"history"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Web       WebConfig       `mapstructure:"web"`
	Debug     bool            `mapstructure:"debug"`
}

// SourceConfig selects the video source. Path wins over CameraIndex when set.
type SourceConfig struct {
	CameraIndex int    `mapstructure:"camera_index"`
	VideoPath   string `mapstructure:"video_path"`
}

type DetectionConfig struct {
	// Sensitivity is the absolute-difference threshold (0-255); lower is
	// more sensitive.
	Sensitivity int `mapstructure:"sensitivity"`
	// MinArea is the smallest contour area (px²) that counts as motion.
	MinArea int `mapstructure:"min_area"`
	// BlendAlpha is the exponential weight for reference-frame adaptation.
	BlendAlpha float64 `mapstructure:"blend_alpha"`
	// TargetSubjects restricts reported regions to these labels when a
	// classifier is configured; empty means no filtering.
	TargetSubjects []string `mapstructure:"target_subjects"`
}

type DebounceConfig struct {
	GraceFrames int           `mapstructure:"grace_frames"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type StreamConfig struct {
	FPS         int `mapstructure:"fps"`
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type SnapshotConfig struct {
	Dir           string        `mapstructure:"dir"`
	RetentionAge  time.Duration `mapstructure:"retention_age"` // 0 disables the sweep
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

type NotifyConfig struct {
	WebhookURLs []string      `mapstructure:"webhook_urls"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`
	QueueSize   int           `mapstructure:"queue_size"`
	// On selects when an episode triggers a notification: "start" for the
	// fastest alert, "close" for complete peak data.
	On string `mapstructure:"on"`
}

type WebConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

const (
	NotifyOnStart = "start"
	NotifyOnClose = "close"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Source: SourceConfig{CameraIndex: 0},
		Detection: DetectionConfig{
			Sensitivity:    25,
			MinArea:        500,
			BlendAlpha:     0.05,
			TargetSubjects: []string{"cat", "person"},
		},
		Debounce: DebounceConfig{
			GraceFrames: 5,
			Cooldown:    10 * time.Second,
		},
		History: HistoryConfig{Capacity: 100},
		Stream:  StreamConfig{FPS: 10, JPEGQuality: 80},
		Snapshot: SnapshotConfig{
			Dir:           "frames",
			RetentionAge:  72 * time.Hour,
			SweepSchedule: "@hourly",
		},
		Notify: NotifyConfig{
			MinInterval: time.Minute,
			MaxElapsed:  2 * time.Minute,
			QueueSize:   32,
			On:          NotifyOnClose,
		},
		Web:   WebConfig{Host: "0.0.0.0", Port: 5000},
		Debug: false,
	}
}

// Load reads configuration from an optional YAML file plus MOTIONCAM_*
// environment overrides, layered over Default. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("motioncam")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("source.camera_index", d.Source.CameraIndex)
	v.SetDefault("source.video_path", d.Source.VideoPath)
	v.SetDefault("detection.sensitivity", d.Detection.Sensitivity)
	v.SetDefault("detection.min_area", d.Detection.MinArea)
	v.SetDefault("detection.blend_alpha", d.Detection.BlendAlpha)
	v.SetDefault("detection.target_subjects", d.Detection.TargetSubjects)
	v.SetDefault("debounce.grace_frames", d.Debounce.GraceFrames)
	v.SetDefault("debounce.cooldown", d.Debounce.Cooldown)
	v.SetDefault("history.capacity", d.History.Capacity)
	v.SetDefault("stream.fps", d.Stream.FPS)
	v.SetDefault("stream.jpeg_quality", d.Stream.JPEGQuality)
	v.SetDefault("snapshot.dir", d.Snapshot.Dir)
	v.SetDefault("snapshot.retention_age", d.Snapshot.RetentionAge)
	v.SetDefault("snapshot.sweep_schedule", d.Snapshot.SweepSchedule)
	v.SetDefault("notify.webhook_urls", d.Notify.WebhookURLs)
	v.SetDefault("notify.min_interval", d.Notify.MinInterval)
	v.SetDefault("notify.max_elapsed", d.Notify.MaxElapsed)
	v.SetDefault("notify.queue_size", d.Notify.QueueSize)
	v.SetDefault("notify.on", d.Notify.On)
	v.SetDefault("web.host", d.Web.Host)
	v.SetDefault("web.port", d.Web.Port)
	v.SetDefault("debug", d.Debug)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Source.CameraIndex < 0 {
		return fmt.Errorf("source.camera_index must be >= 0, got %d", c.Source.CameraIndex)
	}
	if c.Detection.Sensitivity < 1 || c.Detection.Sensitivity > 255 {
		return fmt.Errorf("detection.sensitivity must be in [1,255], got %d", c.Detection.Sensitivity)
	}
	if c.Detection.MinArea < 1 {
		return fmt.Errorf("detection.min_area must be >= 1, got %d", c.Detection.MinArea)
	}
	if c.Detection.BlendAlpha < 0 || c.Detection.BlendAlpha >= 1 {
		return fmt.Errorf("detection.blend_alpha must be in [0,1), got %g", c.Detection.BlendAlpha)
	}
	if c.Debounce.GraceFrames < 0 {
		return fmt.Errorf("debounce.grace_frames must be >= 0, got %d", c.Debounce.GraceFrames)
	}
	if c.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be >= 1, got %d", c.History.Capacity)
	}
	if c.Stream.FPS < 1 || c.Stream.FPS > 60 {
		return fmt.Errorf("stream.fps must be in [1,60], got %d", c.Stream.FPS)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("stream.jpeg_quality must be in [1,100], got %d", c.Stream.JPEGQuality)
	}
	if c.Notify.On != NotifyOnStart && c.Notify.On != NotifyOnClose {
		return fmt.Errorf("notify.on must be %q or %q, got %q", NotifyOnStart, NotifyOnClose, c.Notify.On)
	}
	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("notify.queue_size must be >= 1, got %d", c.Notify.QueueSize)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be in [1,65535], got %d", c.Web.Port)
	}
	return nil
}
