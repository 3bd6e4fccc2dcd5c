// Package framestream carries encoded frames from the capture loop to
// streaming consumers through a single-slot, overwrite-on-write hub.
package framestream

import (
	"time"
)

// Frame is one encoded camera frame. Frames are immutable after creation:
// every consumer shares the same backing slice and must treat it read-only.
type Frame struct {
	JPEG      []byte
	Width     int
	Height    int
	Channels  int
	Timestamp time.Time
	Seq       int64
}
