package gstv4l2

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Format is the raw layout requested from GStreamer.
type Format string

const (
	// FormatI420 delivers planar Y, U, V (chroma pixel stride 1).
	FormatI420 Format = "I420"
	// FormatNV21 delivers Y then interleaved V,U (chroma pixel stride 2).
	FormatNV21 Format = "NV21"
)

type pipelineElements struct {
	Pipeline *gst.Pipeline
	Source   *gst.Element
	AppSink  *app.Sink
}

// createPipeline builds, without starting:
//
//	v4l2src → videoconvert → videoscale → capsfilter(format,W,H) → appsink
//
// appsink keeps only the latest buffer (max-buffers=1, drop=true) and does not
// sync to the clock.
func createPipeline(device string, width, height int, format Format) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	if device != "" {
		if err := src.SetProperty("device", device); err != nil {
			return nil, fmt.Errorf("failed to set v4l2src device: %w", err)
		}
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(width, height, format)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	return &pipelineElements{Pipeline: pipeline, Source: src, AppSink: appsink}, nil
}

func buildCaps(width, height int, format Format) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, width, height)
}

// parseFormat accepts "i420", "nv21" (any case); empty means NV21.
func parseFormat(s string) (Format, error) {
	switch strings.ToUpper(s) {
	case "", string(FormatNV21):
		return FormatNV21, nil
	case string(FormatI420):
		return FormatI420, nil
	}
	return "", fmt.Errorf("gstv4l2: unsupported format %q (want I420 or NV21)", s)
}

func destroyPipeline(e *pipelineElements) error {
	if e == nil || e.Pipeline == nil {
		return nil
	}
	if err := e.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
