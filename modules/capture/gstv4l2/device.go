// Package gstv4l2 captures V4L2 cameras through GStreamer.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → capsfilter(I420|NV21,W,H) → appsink
//
// Open brings the pipeline to READY, which opens the device node, so
// permission and busy errors surface from Open. StartStreaming sets PLAYING
// and monitors the bus; mid-stream errors restart the pipeline with
// exponential backoff.
package gstv4l2

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-liveview/modules/capture"
	"github.com/e7canasta/orion-liveview/modules/capture/internal/reconnect"
)

const (
	defaultDevice = "/dev/video0"

	// busPollInterval bounds shutdown latency of the bus monitor.
	busPollInterval = 50 * time.Millisecond

	// openTimeout bounds how long Open waits for a bus error after READY.
	openTimeout = 2 * time.Second
)

// Config configures the device.
type Config struct {
	// Format is "NV21" (default) or "I420". I420 takes the planar chroma
	// path, which reads the V plane then the U plane as VU pairs.
	Format string

	Reconnect reconnect.Config
	Logger    *logrus.Entry
}

// Device implements capture.Device over GStreamer v4l2src.
type Device struct {
	format    Format
	reconnect reconnect.Config
	logger    *logrus.Entry
}

var _ capture.Device = (*Device)(nil)

// New validates cfg.
func New(cfg Config) (*Device, error) {
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Reconnect.MaxRetries == 0 && cfg.Reconnect.RetryDelay == 0 {
		cfg.Reconnect = reconnect.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Device{
		format:    format,
		reconnect: cfg.Reconnect,
		logger:    logger.WithField("component", "capture"),
	}, nil
}

// Open implements capture.Device.
func (d *Device) Open(ctx context.Context, sel capture.Selector, width, height int) (capture.Session, error) {
	if width <= 0 || height <= 0 || width%8 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: resolution %dx%d (width must be a multiple of 8, height even)",
			capture.ErrDeviceUnavailable, width, height)
	}

	device := sel.Device
	if device == "" {
		device = defaultDevice
	}

	elements, err := createPipeline(device, width, height, d.format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", capture.ErrDeviceUnavailable, device, err)
	}

	log := d.logger.WithFields(logrus.Fields{
		"device":     device,
		"resolution": fmt.Sprintf("%dx%d", width, height),
		"format":     d.format,
	})

	if err := d.ready(ctx, elements); err != nil {
		_ = destroyPipeline(elements)
		log.WithError(err).Warn("capture: open failed")
		return nil, err
	}

	s := &session{
		id:        uuid.NewString(),
		device:    device,
		width:     width,
		height:    height,
		format:    d.format,
		elements:  elements,
		reconnect: d.reconnect,
	}
	s.logger = log.WithField("session", s.id)
	s.logger.Info("capture: device opened")
	return s, nil
}

// ready moves the pipeline to READY (device node opened) and surfaces the
// first bus error, if any, as a classified capture error.
func (d *Device) ready(ctx context.Context, e *pipelineElements) error {
	stateErr := e.Pipeline.SetState(gst.StateReady)

	bus := e.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(openTimeout)
	for stateErr != nil && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := bus.TimedPop(busPollInterval)
		if msg == nil || msg.Type() != gst.MessageError {
			continue
		}
		return classify(msg.ParseError())
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stateErr != nil {
		if kind := capture.ClassifyDeviceError(stateErr.Error()); kind != nil {
			return fmt.Errorf("%w: %w", kind, stateErr)
		}
		return fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, stateErr)
	}
	return nil
}

func classify(gerr *gst.GError) error {
	if gerr == nil {
		return capture.ErrDeviceUnavailable
	}
	detail := gerr.Error() + ": " + gerr.DebugString()
	kind := capture.ClassifyDeviceError(detail)
	if kind == nil {
		kind = capture.ErrDeviceUnavailable
	}
	return fmt.Errorf("%w: %s", kind, detail)
}

type session struct {
	id        string
	device    string
	width     int
	height    int
	format    Format
	elements  *pipelineElements
	reconnect reconnect.Config
	logger    *logrus.Entry

	gate capture.Gate

	mu        sync.Mutex
	streaming bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	frames    atomic.Uint64
	malformed atomic.Uint64
	state     reconnect.State
}

func (s *session) ID() string { return s.id }

func (s *session) StartStreaming(h capture.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.streaming {
		return fmt.Errorf("%w: session %s already streaming or closed", capture.ErrSessionState, s.id)
	}

	s.elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink, h)
		},
	})

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstv4l2: failed to start pipeline: %w", err)
	}
	s.streaming = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("capture: streaming started")
	return nil
}

// onNewSample runs on the GStreamer streaming thread (the capture context).
func (s *session) onNewSample(sink *app.Sink, h capture.FrameHandler) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	if !s.gate.Enter() {
		return gst.FlowOK
	}
	defer s.gate.Leave()

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	img, err := slicePlanes(mapInfo.Bytes(), s.width, s.height, s.format)
	if err != nil {
		if n := s.malformed.Add(1); n == 1 || n%100 == 0 {
			s.logger.WithError(err).WithField("malformed", n).Warn("capture: skipping malformed buffer")
		}
		return gst.FlowOK
	}

	s.frames.Add(1)
	h(img, time.Now())
	return gst.FlowOK
}

// run monitors the bus and restarts the pipeline after errors.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()

	first := true
	connect := func(ctx context.Context) error {
		if !first {
			if err := s.restart(); err != nil {
				return err
			}
		}
		first = false
		return s.monitor(ctx)
	}

	if err := reconnect.Run(ctx, connect, s.reconnect, &s.state, s.logger); err != nil && ctx.Err() == nil {
		s.logger.WithFields(logrus.Fields{
			"error":      err,
			"frames":     s.frames.Load(),
			"reconnects": s.state.Reconnects.Load(),
		}).Error("capture: stream stopped after reconnection failure")
	}
}

func (s *session) restart() error {
	if err := s.elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("reset pipeline: %w", err)
	}
	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("restart pipeline: %w", err)
	}
	return nil
}

// monitor returns nil on cancellation, an error on EOS or pipeline error.
func (s *session) monitor(ctx context.Context) error {
	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			err := classify(msg.ParseError())
			s.logger.WithFields(logrus.Fields{
				"error":  err,
				"frames": s.frames.Load(),
			}).Error("capture: pipeline error")
			return err

		case gst.MessageStateChanged:
			if msg.Source() == s.elements.Pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.state.Reset()
					s.logger.Debug("capture: pipeline playing")
				}
			}
		}
	}
}

// Stop closes the callback gate first so no handler runs once it returns,
// then stops the monitor and pauses the pipeline.
func (s *session) Stop() {
	s.gate.Close()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	if err := s.elements.Pipeline.SetState(gst.StatePaused); err != nil {
		s.logger.WithError(err).Debug("capture: pause on stop failed")
	}
	s.logger.WithField("frames", s.frames.Load()).Info("capture: streaming stopped")
}

// Close releases the device node (pipeline to NULL).
func (s *session) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := destroyPipeline(s.elements); err != nil {
		return fmt.Errorf("gstv4l2: close %s: %w", s.device, err)
	}
	s.logger.Info("capture: device released")
	return nil
}
