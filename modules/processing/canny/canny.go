// Package canny runs OpenCV Canny edge detection on RGBA frames through gocv.
package canny

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/processing"
)

// Config holds the hysteresis thresholds and optional pre-blur.
type Config struct {
	LowThreshold  float32
	HighThreshold float32

	// BlurKernel is the Gaussian kernel size applied before Canny. 0 disables
	// the blur; otherwise it must be odd.
	BlurKernel int
}

// DefaultConfig returns the 80/100 thresholds used by the live view edge filter.
func DefaultConfig() Config {
	return Config{LowThreshold: 80, HighThreshold: 100}
}

// Processor is a processing.Processor producing white edges on black.
type Processor struct {
	cfg Config
}

var _ processing.Processor = (*Processor)(nil)

// New validates cfg and returns a Processor.
func New(cfg Config) (*Processor, error) {
	if cfg.LowThreshold < 0 || cfg.HighThreshold < cfg.LowThreshold {
		return nil, fmt.Errorf("canny: invalid thresholds low=%.1f high=%.1f", cfg.LowThreshold, cfg.HighThreshold)
	}
	if cfg.BlurKernel < 0 || (cfg.BlurKernel > 0 && cfg.BlurKernel%2 == 0) {
		return nil, fmt.Errorf("canny: blur kernel must be 0 or odd, got %d", cfg.BlurKernel)
	}
	return &Processor{cfg: cfg}, nil
}

// Process implements processing.Processor.
func (p *Processor) Process(_ context.Context, in *frame.Frame) (*frame.Frame, error) {
	src, err := gocv.NewMatFromBytes(in.Height, in.Width, gocv.MatTypeCV8UC4, in.Data[:frame.Size(in.Width, in.Height)])
	if err != nil {
		return nil, fmt.Errorf("canny: wrap frame: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(src, &gray, gocv.ColorRGBAToGray); err != nil {
		return nil, fmt.Errorf("canny: to gray: %w", err)
	}

	if k := p.cfg.BlurKernel; k > 0 {
		blurred := gocv.NewMat()
		defer blurred.Close()
		if err := gocv.GaussianBlur(gray, &blurred, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault); err != nil {
			return nil, fmt.Errorf("canny: blur: %w", err)
		}
		gray, blurred = blurred, gray
	}

	edges := gocv.NewMat()
	defer edges.Close()
	if err := gocv.Canny(gray, &edges, p.cfg.LowThreshold, p.cfg.HighThreshold); err != nil {
		return nil, fmt.Errorf("canny: edges: %w", err)
	}

	out := gocv.NewMat()
	defer out.Close()
	if err := gocv.CvtColor(edges, &out, gocv.ColorGrayToRGBA); err != nil {
		return nil, fmt.Errorf("canny: to rgba: %w", err)
	}

	return frame.New(out.ToBytes(), in.Width, in.Height, in.Timestamp), nil
}
