// Package frame defines the RGBA frame value that travels through the
// live view pipeline.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// BytesPerPixel is the size of one packed RGBA8 pixel.
const BytesPerPixel = 4

// ErrInvalidGeometry reports a pixel buffer that does not match its declared
// width and height.
var ErrInvalidGeometry = errors.New("invalid frame geometry")

// Frame is one decoded image in packed RGBA8 form (row-major, no padding).
//
// OWNERSHIP CONTRACT:
//   - A Frame is owned by exactly one stage at a time
//   - Ownership moves with frameslot.Publish / frameslot.TryTake
//   - The holder MUST NOT modify Data after handing the frame on
type Frame struct {
	// Data holds Width*Height*4 bytes of RGBA pixels.
	Data []byte

	// Width of the frame in pixels
	Width int

	// Height of the frame in pixels
	Height int

	// Timestamp when the frame was captured (source time, not processing time)
	Timestamp time.Time

	// Seq is assigned by the dispatcher on capture. Monotonically increasing
	// per pipeline run; gaps mean frames were dropped upstream.
	Seq uint64

	// TraceID correlates log lines of one capture event across stages.
	TraceID string
}

// New wraps an RGBA buffer. The buffer is not copied.
func New(data []byte, width, height int, ts time.Time) *Frame {
	return &Frame{Data: data, Width: width, Height: height, Timestamp: ts}
}

// Size returns the number of bytes an RGBA buffer of the given dimensions needs.
func Size(width, height int) int {
	return width * height * BytesPerPixel
}

// Validate checks that the frame dimensions are positive and that Data is
// large enough for them.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidGeometry)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, f.Width, f.Height)
	}
	if need := Size(f.Width, f.Height); len(f.Data) < need {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrInvalidGeometry, f.Width, f.Height, need, len(f.Data))
	}
	return nil
}

// WithPixels returns a new frame carrying f's capture metadata and the given
// pixels. Processors use it to build their output.
func (f *Frame) WithPixels(data []byte, width, height int) *Frame {
	return &Frame{
		Data:      data,
		Width:     width,
		Height:    height,
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
		TraceID:   f.TraceID,
	}
}

// Resolution formats the frame dimensions as "WxH".
func (f *Frame) Resolution() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}
