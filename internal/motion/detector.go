// Package motion implements reference-frame differencing motion detection.
package motion

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/event"
)

// Config tunes the detector.
type Config struct {
	// Sensitivity is the binary threshold applied to the absolute
	// difference against the reference frame (0-255).
	Sensitivity int
	// MinArea discards contours smaller than this many px².
	MinArea int
	// BlendAlpha is the exponential weight used to fold each new frame into
	// the reference, so the background adapts to slow lighting drift.
	BlendAlpha float64
	// Filter optionally removes regions after extraction (e.g. subject
	// classification). It never adds motion where none was detected.
	Filter RegionFilter
}

// Detector compares each frame against an adaptive reference frame.
//
// Detect must be called from a single goroutine (the capture loop); the
// mutex only protects tuning values and the frozen flag, which the web
// config handler and the orchestrator touch from outside.
type Detector struct {
	mu          sync.Mutex
	sensitivity float32
	minArea     float64
	alpha       float64
	filter      RegionFilter
	frozen      bool

	primed bool
	ref    gocv.Mat
	kernel gocv.Mat

	blurSize image.Point
}

func NewDetector(cfg Config) *Detector {
	return &Detector{
		sensitivity: float32(cfg.Sensitivity),
		minArea:     float64(cfg.MinArea),
		alpha:       cfg.BlendAlpha,
		filter:      cfg.Filter,
		ref:         gocv.NewMat(),
		kernel:      gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		blurSize:    image.Pt(21, 21),
	}
}

// SetFrozen stops (true) or resumes (false) reference-frame adaptation.
// The orchestrator freezes the reference while an episode is active so the
// moving subject is not absorbed into the background.
func (d *Detector) SetFrozen(frozen bool) {
	d.mu.Lock()
	d.frozen = frozen
	d.mu.Unlock()
}

// SetTuning updates sensitivity and minimum area at runtime.
func (d *Detector) SetTuning(sensitivity, minArea int) {
	d.mu.Lock()
	d.sensitivity = float32(sensitivity)
	d.minArea = float64(minArea)
	d.mu.Unlock()
}

// Tuning returns the current sensitivity and minimum area.
func (d *Detector) Tuning() (sensitivity, minArea int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.sensitivity), int(d.minArea)
}

// Reset discards the reference frame. The next Detect call re-primes and
// reports no motion.
func (d *Detector) Reset() {
	d.primed = false
}

// Detect compares the frame against the reference and returns a sample.
// On error the reference is left untouched and the caller skips the frame.
func (d *Detector) Detect(mat gocv.Mat, ts time.Time) (event.Sample, error) {
	if mat.Empty() {
		return event.Sample{}, fmt.Errorf("detect: empty frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if mat.Channels() > 1 {
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	} else {
		mat.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, d.blurSize, 0, 0, gocv.BorderDefault)

	// First frame after construction or reset: prime the reference and
	// report no motion unconditionally.
	if !d.primed {
		d.ref.Close()
		d.ref = blurred.Clone()
		d.primed = true
		return event.Sample{Timestamp: ts}, nil
	}

	d.mu.Lock()
	sensitivity := d.sensitivity
	minArea := d.minArea
	filter := d.filter
	frozen := d.frozen
	d.mu.Unlock()

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(d.ref, blurred, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, sensitivity, 255, gocv.ThresholdBinary)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(thresh, &dilated, d.kernel)
	gocv.Dilate(dilated, &thresh, d.kernel)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type sized struct {
		rect image.Rectangle
		area float64
	}
	var survivors []sized
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < minArea {
			continue
		}
		survivors = append(survivors, sized{rect: gocv.BoundingRect(c), area: area})
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].area > survivors[j].area })

	regions := make([]image.Rectangle, len(survivors))
	for i, s := range survivors {
		regions[i] = s.rect
	}
	if filter != nil {
		regions = filter.Filter(mat, regions)
	}

	var score float64
	if len(regions) > 0 {
		// Score is the area of the largest surviving region. Regions are
		// sorted largest-first and filters only remove entries.
		for _, s := range survivors {
			if s.rect == regions[0] {
				score = s.area
				break
			}
		}
	}

	if !frozen {
		d.blendReference(blurred)
	}

	return event.Sample{
		Timestamp: ts,
		Detected:  len(regions) > 0,
		Regions:   regions,
		Score:     score,
	}, nil
}

// blendReference folds the current frame into the reference:
// ref = (1-alpha)*ref + alpha*frame.
func (d *Detector) blendReference(blurred gocv.Mat) {
	if d.alpha <= 0 {
		return
	}
	next := gocv.NewMat()
	gocv.AddWeighted(blurred, d.alpha, d.ref, 1-d.alpha, 0, &next)
	d.ref.Close()
	d.ref = next
}

// Close releases detector-held mats.
func (d *Detector) Close() {
	d.ref.Close()
	d.kernel.Close()
}
