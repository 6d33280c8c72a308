// Package metricsink delivers pipeline metric events (FPS updates and
// resolution changes) to observers: logs, an MQTT broker, web viewers.
//
// Events are fire-and-forget. Sinks must not block the render loop; wrap
// slow sinks (network) in a Fanout, which gives each sink its own mailbox
// and goroutine.
package metricsink

import (
	"math"
	"time"
)

// Sink receives metric events.
type Sink interface {
	FPSUpdated(fps float64)
	ResolutionKnown(width, height int)
}

// Kind identifies an event.
type Kind string

const (
	KindFPS        Kind = "fps"
	KindResolution Kind = "resolution"
)

// Event is the wire form of a metric event (JSON for MQTT and WebSocket).
type Event struct {
	Type      Kind      `json:"type"`
	FPS       float64   `json:"fps,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FPSEvent builds an fps event rounded to one decimal.
func FPSEvent(fps float64, ts time.Time) Event {
	return Event{Type: KindFPS, FPS: math.Round(fps*10) / 10, Timestamp: ts}
}

// ResolutionEvent builds a resolution event.
func ResolutionEvent(width, height int, ts time.Time) Event {
	return Event{Type: KindResolution, Width: width, Height: height, Timestamp: ts}
}

// deliver dispatches e to s.
func deliver(s Sink, e Event) {
	switch e.Type {
	case KindFPS:
		s.FPSUpdated(e.FPS)
	case KindResolution:
		s.ResolutionKnown(e.Width, e.Height)
	}
}

// Funcs adapts plain functions to Sink. Nil fields are ignored.
type Funcs struct {
	OnFPS        func(fps float64)
	OnResolution func(width, height int)
}

// FPSUpdated implements Sink.
func (f Funcs) FPSUpdated(fps float64) {
	if f.OnFPS != nil {
		f.OnFPS(fps)
	}
}

// ResolutionKnown implements Sink.
func (f Funcs) ResolutionKnown(width, height int) {
	if f.OnResolution != nil {
		f.OnResolution(width, height)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) FPSUpdated(float64) {}
func (Nop) ResolutionKnown(int, int) {}
