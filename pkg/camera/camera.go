// Package camera provides frame acquisition for the recognition loop.
// The scanner only consumes frames; where they come from (V4L2, RTSP, a
// frame spool written by an external grabber) is behind the Source interface.
package camera

import (
	"context"
	"errors"
	"time"
)

// Frame represents a single camera frame. Data holds an encoded image
// (JPEG or PNG) as produced by the grabber.
type Frame struct {
	Data      []byte
	Format    string // "jpeg", "png"
	Timestamp time.Time
}

// Region is a face bounding box within a frame.
type Region struct {
	X, Y          int
	Width, Height int
}

// Source supplies frames to the recognition loop.
type Source interface {
	// Next blocks until a frame is available or the context is done.
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// ErrSourceClosed is returned when reading from a closed source.
var ErrSourceClosed = errors.New("frame source closed")

// ErrNoFrame is returned when no frame could be acquired.
var ErrNoFrame = errors.New("failed to acquire frame")
