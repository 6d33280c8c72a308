// Package capture defines the camera source boundary: devices, sessions and
// the error taxonomy a pipeline start can surface.
//
// A Device opens a Session for one target resolution. The session pushes
// raw YUV 4:2:0 images to a FrameHandler on the capture context, at the
// sensor's cadence, until Stop. Close releases the device.
//
// Contract:
//   - Handlers must return quickly; the capture context never waits on them
//   - After Session.Stop returns, the handler is never invoked again
//   - Open failures are explicit: ErrPermissionDenied, ErrDeviceUnavailable
//     or ErrDeviceBusy, never a silent empty stream
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
)

var (
	// ErrPermissionDenied means the process may not access the camera.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable means no matching camera exists or it cannot be
	// opened at the requested configuration.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrDeviceBusy means the camera is already in use by another session.
	ErrDeviceBusy = errors.New("capture: device busy")

	// ErrSessionState reports a session call in the wrong lifecycle state,
	// e.g. StartStreaming twice or after Close.
	ErrSessionState = errors.New("capture: invalid session state")
)

// Selector picks a camera. An empty Device selects the first available one.
type Selector struct {
	Device string
}

// String returns the device name or "default".
func (s Selector) String() string {
	if s.Device == "" {
		return "default"
	}
	return s.Device
}

// FrameHandler receives one raw image. The image planes are only valid for
// the duration of the call.
type FrameHandler func(img *colorconv.YUV420, ts time.Time)

// Device opens capture sessions.
type Device interface {
	// Open acquires the camera for a width×height stream. Blocks until the
	// device is ready or ctx is cancelled.
	Open(ctx context.Context, sel Selector, width, height int) (Session, error)
}

// Session is one acquired camera.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// StartStreaming begins delivering frames to h on the capture context.
	StartStreaming(h FrameHandler) error

	// Stop ends frame delivery. Once Stop returns no further handler call
	// starts and none is in flight. Idempotent.
	Stop()

	// Close stops the session if needed and releases the device. Idempotent.
	Close() error
}
