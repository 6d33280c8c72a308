// Package processing defines the boundary to the external pixel transform.
//
// The transform is opaque: RGBA in, RGBA out, may fail. A failure drops the
// affected frame only; callers never retry because a fresher frame arrives
// within one capture interval.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-liveview/modules/frame"
)

// ErrProcessingFailure wraps every error returned through a Processor.
var ErrProcessingFailure = errors.New("processing failure")

// Processor transforms one RGBA frame.
//
// Contract:
//   - in is owned by the processor for the duration of the call
//   - the returned frame may alias in.Data (in-place transforms)
//   - the returned frame must pass frame.Validate
type Processor interface {
	Process(ctx context.Context, in *frame.Frame) (*frame.Frame, error)
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, in *frame.Frame) (*frame.Frame, error)

// Process implements Processor.
func (f Func) Process(ctx context.Context, in *frame.Frame) (*frame.Frame, error) {
	return f(ctx, in)
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

// Process implements Processor.
func (Passthrough) Process(_ context.Context, in *frame.Frame) (*frame.Frame, error) {
	return in, nil
}

// Delay simulates a transform with fixed latency in front of Next
// (Passthrough when nil). Cancellation interrupts the wait.
type Delay struct {
	Latency time.Duration
	Next    Processor
}

// Process implements Processor.
func (d Delay) Process(ctx context.Context, in *frame.Frame) (*frame.Frame, error) {
	if d.Latency > 0 {
		t := time.NewTimer(d.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Next == nil {
		return in, nil
	}
	return d.Next.Process(ctx, in)
}

// Grayscale replaces each pixel with its BT.601 luma. Runs in place.
type Grayscale struct{}

// Process implements Processor.
func (Grayscale) Process(_ context.Context, in *frame.Frame) (*frame.Frame, error) {
	n := frame.Size(in.Width, in.Height)
	px := in.Data[:n]
	for i := 0; i < n; i += frame.BytesPerPixel {
		y := (299*uint32(px[i]) + 587*uint32(px[i+1]) + 114*uint32(px[i+2])) / 1000
		px[i], px[i+1], px[i+2] = byte(y), byte(y), byte(y)
	}
	return in, nil
}

// Run invokes p and normalizes the outcome: errors wrap ErrProcessingFailure,
// output geometry is validated and the input's Seq, Timestamp and TraceID
// are carried over.
func Run(ctx context.Context, p Processor, in *frame.Frame) (*frame.Frame, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: input: %w", ErrProcessingFailure, err)
	}

	out, err := p.Process(ctx, in)
	if err != nil {
		if errors.Is(err, ErrProcessingFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailure, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: output: %w", ErrProcessingFailure, err)
	}

	out.Seq = in.Seq
	out.Timestamp = in.Timestamp
	out.TraceID = in.TraceID
	return out, nil
}
