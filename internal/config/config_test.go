package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Detection.Sensitivity != 25 {
		t.Errorf("sensitivity = %d, want 25", cfg.Detection.Sensitivity)
	}
	if cfg.Detection.MinArea != 500 {
		t.Errorf("min_area = %d, want 500", cfg.Detection.MinArea)
	}
	if cfg.History.Capacity != 100 {
		t.Errorf("history capacity = %d, want 100", cfg.History.Capacity)
	}
	if cfg.Snapshot.Dir != "frames" {
		t.Errorf("snapshot dir = %q, want frames", cfg.Snapshot.Dir)
	}
	if cfg.Notify.On != NotifyOnClose {
		t.Errorf("notify.on = %q, want %q", cfg.Notify.On, NotifyOnClose)
	}
	if got := cfg.Web.Addr(); got != "0.0.0.0:5000" {
		t.Errorf("addr = %q, want 0.0.0.0:5000", got)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motioncam.yaml")
	doc := `
source:
  video_path: /data/clip.mp4
detection:
  sensitivity: 40
debounce:
  cooldown: 30s
web:
  port: 8080
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.VideoPath != "/data/clip.mp4" {
		t.Errorf("video_path = %q", cfg.Source.VideoPath)
	}
	if cfg.Detection.Sensitivity != 40 {
		t.Errorf("sensitivity = %d, want 40", cfg.Detection.Sensitivity)
	}
	if cfg.Debounce.Cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cfg.Debounce.Cooldown)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Web.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.Detection.MinArea != 500 {
		t.Errorf("min_area = %d, want default 500", cfg.Detection.MinArea)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MOTIONCAM_DETECTION_SENSITIVITY", "60")
	t.Setenv("MOTIONCAM_WEB_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.Sensitivity != 60 {
		t.Errorf("sensitivity = %d, want env override 60", cfg.Detection.Sensitivity)
	}
	if cfg.Web.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Web.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"negative camera index": func(c *Config) { c.Source.CameraIndex = -1 },
		"sensitivity zero":      func(c *Config) { c.Detection.Sensitivity = 0 },
		"sensitivity over 255":  func(c *Config) { c.Detection.Sensitivity = 256 },
		"min_area zero":         func(c *Config) { c.Detection.MinArea = 0 },
		"blend_alpha one":       func(c *Config) { c.Detection.BlendAlpha = 1 },
		"negative grace":        func(c *Config) { c.Debounce.GraceFrames = -1 },
		"zero history":          func(c *Config) { c.History.Capacity = 0 },
		"fps zero":              func(c *Config) { c.Stream.FPS = 0 },
		"fps over 60":           func(c *Config) { c.Stream.FPS = 61 },
		"quality over 100":      func(c *Config) { c.Stream.JPEGQuality = 101 },
		"bad notify.on":         func(c *Config) { c.Notify.On = "never" },
		"zero queue":            func(c *Config) { c.Notify.QueueSize = 0 },
		"bad port":              func(c *Config) { c.Web.Port = 0 },
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}
