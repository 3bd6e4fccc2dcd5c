package motion

import (
	"image"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// RegionFilter post-processes the extracted region list. Implementations may
// only remove regions, never add them.
type RegionFilter interface {
	Filter(frame gocv.Mat, regions []image.Rectangle) []image.Rectangle
}

// Classifier labels a region of a frame. It is a capability boundary: the
// concrete model (YOLO, a cloud API, ...) is plugged in by the caller.
type Classifier interface {
	Classify(frame gocv.Mat, region image.Rectangle) (label string, ok bool)
}

// SubjectFilter keeps only regions whose classified label is in the target
// set. With no classifier or an empty target set it passes regions through
// unchanged, so detection degrades to unfiltered rather than silent.
type SubjectFilter struct {
	mu         sync.RWMutex
	targets    map[string]struct{}
	classifier Classifier
}

func NewSubjectFilter(classifier Classifier, targets []string) *SubjectFilter {
	f := &SubjectFilter{classifier: classifier}
	f.SetTargets(targets)
	return f
}

// SetTargets replaces the target-subject list. Labels are matched
// case-insensitively.
func (f *SubjectFilter) SetTargets(targets []string) {
	m := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			m[t] = struct{}{}
		}
	}
	f.mu.Lock()
	f.targets = m
	f.mu.Unlock()
}

// Targets returns the current target labels.
func (f *SubjectFilter) Targets() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.targets))
	for t := range f.targets {
		out = append(out, t)
	}
	return out
}

func (f *SubjectFilter) Filter(frame gocv.Mat, regions []image.Rectangle) []image.Rectangle {
	f.mu.RLock()
	targets := f.targets
	classifier := f.classifier
	f.mu.RUnlock()

	if classifier == nil || len(targets) == 0 {
		return regions
	}

	kept := regions[:0]
	for _, r := range regions {
		label, ok := classifier.Classify(frame, r)
		if !ok {
			continue
		}
		if _, want := targets[strings.ToLower(label)]; want {
			kept = append(kept, r)
		}
	}
	return kept
}
