// Package camera abstracts "read the next frame" over a capture device or a
// video file.
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/framestream"
)

var (
	// ErrSourceUnavailable means the device or file could not be acquired.
	// Fatal at startup.
	ErrSourceUnavailable = errors.New("camera: source unavailable")
	// ErrSourceLost means a previously working device stopped delivering
	// frames and bounded retries were exhausted. Fatal for this Source
	// instance; the orchestrator decides whether to re-open.
	ErrSourceLost = errors.New("camera: source lost")
	// ErrEndOfStream means a file source is exhausted. Not an error
	// condition for callers to report.
	ErrEndOfStream = errors.New("camera: end of stream")
)

// Spec identifies a video source: a file path when Path is non-empty,
// otherwise a device index.
type Spec struct {
	Device int
	Path   string
}

func (s Spec) String() string {
	if s.Path != "" {
		return s.Path
	}
	return fmt.Sprintf("device:%d", s.Device)
}

// IsFile reports whether the spec names a file source.
func (s Spec) IsFile() bool { return s.Path != "" }

// Capture is one decoded frame. The pixel buffer is owned by the Source and
// stays valid only until the next call to Next; downstream keeps the encoded
// Frame instead.
type Capture struct {
	Mat  gocv.Mat
	Time time.Time
	Seq  int64
}

// EncodeJPEG produces an immutable encoded frame from the capture.
func (c Capture) EncodeJPEG(quality int) (*framestream.Frame, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.Mat,
		[]int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// Copy out: the native buffer is freed on Close.
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return &framestream.Frame{
		JPEG:      data,
		Width:     c.Mat.Cols(),
		Height:    c.Mat.Rows(),
		Channels:  c.Mat.Channels(),
		Timestamp: c.Time,
		Seq:       c.Seq,
	}, nil
}

// Source reads frames from one opened device or file. Not safe for
// concurrent use; the capture loop is its only caller.
type Source struct {
	spec Spec
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	seq  int64

	maxReadRetries int
	retryBase      time.Duration
}

const (
	defaultMaxReadRetries = 5
	defaultRetryBase      = 100 * time.Millisecond
)

// Open acquires the source. Returns ErrSourceUnavailable (wrapped) when the
// device or file cannot be opened.
func Open(spec Spec) (*Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if spec.IsFile() {
		vc, err = gocv.OpenVideoCapture(spec.Path)
	} else {
		vc, err = gocv.OpenVideoCapture(spec.Device)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, spec, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s not opened", ErrSourceUnavailable, spec)
	}
	return &Source{
		spec:           spec,
		cap:            vc,
		mat:            gocv.NewMat(),
		maxReadRetries: defaultMaxReadRetries,
		retryBase:      defaultRetryBase,
	}, nil
}

// Spec returns the source identity.
func (s *Source) Spec() Spec { return s.spec }

// Next blocks until a frame is ready (device-paced). A file source returns
// ErrEndOfStream when exhausted. Device read failures are retried with
// backoff before surfacing ErrSourceLost.
func (s *Source) Next(ctx context.Context) (Capture, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBase
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Capture{}, err
		}
		if s.cap.Read(&s.mat) && !s.mat.Empty() {
			s.seq++
			return Capture{Mat: s.mat, Time: time.Now(), Seq: s.seq}, nil
		}
		if s.spec.IsFile() {
			return Capture{}, ErrEndOfStream
		}
		if attempt >= s.maxReadRetries {
			return Capture{}, fmt.Errorf("%w: %s after %d read retries",
				ErrSourceLost, s.spec, attempt)
		}
		select {
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// Close releases the capture device.
func (s *Source) Close() error {
	s.mat.Close()
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.spec, err)
	}
	return nil
}
