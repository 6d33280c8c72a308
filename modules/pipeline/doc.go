// Package pipeline owns the lifecycle of the live-view data path:
//
//	capture.Session ──OnCapture──> framedispatch ──> [outbox] ──> Renderer
//
// Controller is the state machine (Stopped → Starting → Running → Stopping →
// Stopped). It opens the camera, starts the dispatcher worker and wires the
// capture callback; Stop tears everything down in an order that guarantees no
// slot is written after it returns:
//
//  1. session.Stop      (no further capture callbacks)
//  2. dispatcher.Stop   (worker joined, in-flight processing cancelled)
//  3. clear both slots
//  4. session.Close     (device released)
//
// Renderer is driven by the display surface owner on the render context, the
// only context that touches texture state. It is the sole reader of the
// outbox.
package pipeline
