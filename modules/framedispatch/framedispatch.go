// Package framedispatch moves frames from the capture context to the
// processing worker and on to the render context.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Topology:
//
//	capture ctx ──OnCapture──> convert ──> [inbox slot] ──wake──> worker
//	                                                                │
//	render ctx <──TryTake── [outbox slot] <──publish── Processor <──┘
//
// Design:
//   - OnCapture never blocks: conversion, one atomic publish and a
//     non-blocking send on a capacity-1 wake channel
//   - Wakes coalesce: one pending wake covers any number of publishes, the
//     worker always takes the newest frame
//   - The worker tolerates empty wakes (no-op) and never waits on the slot
//   - Processing failures drop exactly one frame, no retry
//
// Implementation is in internal/ (hidden from clients).
package framedispatch

import (
	"context"
	"time"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/framedispatch/internal"
	"github.com/e7canasta/orion-liveview/modules/frameslot"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = internal.ErrAlreadyStarted

// Config is re-exported from the internal package.
// See internal/dispatcher.go for field documentation.
type Config = internal.Config

// Stats is re-exported from the internal package.
// See internal/stats.go for field documentation.
type Stats = internal.Stats

// Dispatcher is the public interface of the frame dispatcher.
//
// Lifecycle: New() → Start() → OnCapture()/Submit() → Stop().
// A Dispatcher runs once; create a new one for the next pipeline run.
type Dispatcher interface {
	// Start spawns the worker goroutine. Non-blocking.
	Start(ctx context.Context) error

	// Stop refuses further captures, waits for any in-flight OnCapture to
	// return, cancels the current Process call and joins the worker.
	// Once Stop returns neither slot is written again. Idempotent.
	Stop()

	// OnCapture converts a YUV image and hands it to the worker. Called on the
	// capture context; never blocks on the worker.
	OnCapture(img *colorconv.YUV420, ts time.Time)

	// Submit hands an already-RGBA frame to the worker.
	Submit(f *frame.Frame)

	// Inbox is the capture→worker slot.
	Inbox() *frameslot.Slot

	// Outbox is the worker→render slot.
	Outbox() *frameslot.Slot

	// Stats returns a snapshot. Safe from any goroutine.
	Stats() Stats
}

// New creates a Dispatcher. Slots left nil in cfg are created.
func New(cfg Config) (Dispatcher, error) {
	return internal.NewDispatcher(cfg)
}
