// Package snapshot writes episode still images to disk and prunes old ones.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Prefix is the fixed filename prefix for every snapshot. The notifier only
// ever attaches files carrying it, and the web frame handler only serves
// them.
const Prefix = "motion_"

// Store owns the snapshot directory.
type Store struct {
	dir string
	log *zap.SugaredLogger

	cron *cron.Cron
}

// NewStore creates the directory if needed.
func NewStore(dir string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Save writes already-encoded JPEG bytes as motion_<timestamp>.jpg and
// returns the full path.
func (s *Store) Save(jpeg []byte, ts time.Time) (string, error) {
	name := Name(ts)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return path, nil
}

// Name builds the canonical snapshot filename for a timestamp. Colons are
// replaced so the name is portable.
func Name(ts time.Time) string {
	stamp := strings.ReplaceAll(ts.Format(time.RFC3339Nano), ":", "-")
	return Prefix + stamp + ".jpg"
}

// Matches reports whether path names a file this store could have written.
func Matches(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, Prefix) && filepath.Ext(base) == ".jpg"
}

// StartRetention schedules a periodic sweep deleting snapshots older than
// maxAge. maxAge <= 0 disables retention entirely.
func (s *Store) StartRetention(schedule string, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.sweep(maxAge) }); err != nil {
		return fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Infow("snapshot retention started", "schedule", schedule, "max_age", maxAge)
	return nil
}

// StopRetention halts the sweep scheduler and waits for a running sweep.
func (s *Store) StopRetention() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *Store) sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warnw("retention sweep failed", "dir", s.dir, "error", err)
		return
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !Matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warnw("retention remove failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Infow("retention sweep removed snapshots", "count", removed)
	}
}
