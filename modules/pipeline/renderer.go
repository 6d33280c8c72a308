package pipeline

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/frameslot"
	"github.com/e7canasta/orion-liveview/modules/metricsink"
	"github.com/e7canasta/orion-liveview/modules/texture"
	"github.com/e7canasta/orion-liveview/modules/throughput"
)

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// Backend performs texture storage operations. Required.
	Backend texture.Backend

	// Sink receives fps and resolution events. Default metricsink.Nop.
	Sink metricsink.Sink

	// Clock drives the throughput meter. Default wall clock.
	Clock throughput.Clock

	Logger *logrus.Entry
}

// DisplayStats describes the render side.
type DisplayStats struct {
	Texture texture.Stats
	FPS     float64
	Frames  uint64
	Width   int
	Height  int
	Summary throughput.Summary
}

// Renderer implements the display surface callbacks. All methods except
// Stats must be called on the render context.
type Renderer struct {
	slot     *frameslot.Slot
	uploader *texture.Uploader
	meter    *throughput.Meter
	sink     metricsink.Sink
	logger   *logrus.Entry

	// last is the most recently uploaded frame, re-uploaded when the
	// surface is recreated.
	last *frame.Frame

	mu     sync.Mutex
	width  int
	height int
}

// NewRenderer creates the renderer for c's display slot and attaches it to
// c's Stats.
func (c *Controller) NewRenderer(cfg RendererConfig) *Renderer {
	r := NewRenderer(c.outbox, cfg)
	c.mu.Lock()
	c.renderer = r
	c.mu.Unlock()
	return r
}

// NewRenderer creates a renderer reading from slot.
func NewRenderer(slot *frameslot.Slot, cfg RendererConfig) *Renderer {
	sink := cfg.Sink
	if sink == nil {
		sink = metricsink.Nop{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = throughput.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Renderer{
		slot:     slot,
		uploader: texture.NewUploader(cfg.Backend),
		meter:    throughput.New(throughput.WithClock(clock), throughput.WithOnUpdate(sink.FPSUpdated)),
		sink:     sink,
		logger:   logger.WithField("component", "render"),
	}
}

// OnSurfaceCreated creates the texture. Textures do not survive surface
// loss, so a previously displayed frame is uploaded again.
func (r *Renderer) OnSurfaceCreated() error {
	if err := r.uploader.OnSurfaceCreated(); err != nil {
		r.logger.WithError(err).Error("render: texture creation failed")
		return err
	}
	if r.last != nil {
		if err := r.uploader.Upload(r.last); err != nil {
			r.logger.WithError(err).Warn("render: re-upload after surface creation failed")
		}
	}
	r.logger.Debug("render: surface created")
	return nil
}

// OnSurfaceChanged records the new surface size.
func (r *Renderer) OnSurfaceChanged(width, height int) {
	r.uploader.Resize(width, height)
	r.logger.WithFields(logrus.Fields{"width": width, "height": height}).Debug("render: surface changed")
}

// OnDrawFrame runs one render tick. A new frame is uploaded and counted;
// without one the previous texture is drawn again.
func (r *Renderer) OnDrawFrame() {
	f, ok := r.slot.TryTake()
	if !ok {
		r.meter.Poll()
		r.uploader.Draw()
		return
	}

	if err := r.uploader.Upload(f); err != nil {
		r.logger.WithError(err).Debug("render: upload failed, frame dropped")
		r.meter.Poll()
		r.uploader.Draw()
		return
	}
	r.last = f

	r.mu.Lock()
	changed := f.Width != r.width || f.Height != r.height
	r.width, r.height = f.Width, f.Height
	r.mu.Unlock()

	if changed {
		r.logger.WithField("resolution", f.Resolution()).Info("render: resolution known")
		r.sink.ResolutionKnown(f.Width, f.Height)
	}

	r.meter.Tick()
	r.uploader.Draw()
}

// Release deletes the texture. The last frame is kept for a later
// OnSurfaceCreated.
func (r *Renderer) Release() {
	r.uploader.Release()
}

// FPS returns the last published frames-per-second value.
func (r *Renderer) FPS() float64 {
	return r.meter.FPS()
}

// Stats returns a snapshot. Safe from any goroutine.
func (r *Renderer) Stats() DisplayStats {
	r.mu.Lock()
	w, h := r.width, r.height
	r.mu.Unlock()

	return DisplayStats{
		Texture: r.uploader.Stats(),
		FPS:     r.meter.FPS(),
		Frames:  r.meter.Total(),
		Width:   w,
		Height:  h,
		Summary: r.meter.Summary(),
	}
}
