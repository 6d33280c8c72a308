package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
)

// PatternDeviceName is the selector name accepted by PatternDevice besides "".
const PatternDeviceName = "pattern"

// PatternConfig configures the synthetic camera.
type PatternConfig struct {
	// FPS is the delivery rate. Default 30.
	FPS float64

	// PixelStride selects planar (1) or interleaved (2) chroma. Default 1.
	PixelStride int

	// OpenDelay simulates slow device bring-up; Open honours ctx meanwhile.
	OpenDelay time.Duration

	// OpenErr, when set, is returned by every Open (simulated failures).
	OpenErr error

	Logger *logrus.Entry
}

// PatternDevice is a synthetic camera producing a moving gradient with a
// sweeping bar. Like real cameras it serves one session at a time.
type PatternDevice struct {
	cfg    PatternConfig
	logger *logrus.Entry

	busy   atomic.Bool
	opens  atomic.Uint64
	active atomic.Int32
}

var _ Device = (*PatternDevice)(nil)

// NewPatternDevice creates a synthetic camera.
func NewPatternDevice(cfg PatternConfig) *PatternDevice {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.PixelStride != 2 {
		cfg.PixelStride = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PatternDevice{cfg: cfg, logger: logger.WithField("component", "capture")}
}

// Open implements Device.
func (d *PatternDevice) Open(ctx context.Context, sel Selector, width, height int) (Session, error) {
	if sel.Device != "" && sel.Device != PatternDeviceName {
		return nil, fmt.Errorf("%w: no pattern device %q", ErrDeviceUnavailable, sel.Device)
	}
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: unsupported resolution %dx%d", ErrDeviceUnavailable, width, height)
	}
	if d.cfg.OpenErr != nil {
		return nil, d.cfg.OpenErr
	}
	if !d.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, PatternDeviceName)
	}

	if d.cfg.OpenDelay > 0 {
		t := time.NewTimer(d.cfg.OpenDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			d.busy.Store(false)
			return nil, ctx.Err()
		}
	}

	d.opens.Add(1)
	d.active.Add(1)

	s := &patternSession{
		device: d,
		id:     uuid.NewString(),
		width:  width,
		height: height,
		stop:   make(chan struct{}),
	}
	d.logger.WithFields(logrus.Fields{
		"session":    s.id,
		"resolution": fmt.Sprintf("%dx%d", width, height),
		"fps":        d.cfg.FPS,
		"stride":     d.cfg.PixelStride,
	}).Info("capture: pattern session opened")
	return s, nil
}

// Opens returns the number of successful Open calls.
func (d *PatternDevice) Opens() uint64 { return d.opens.Load() }

// ActiveSessions returns the number of sessions opened and not yet closed.
func (d *PatternDevice) ActiveSessions() int { return int(d.active.Load()) }

type patternSession struct {
	device *PatternDevice
	id     string
	width  int
	height int

	gate Gate

	mu        sync.Mutex
	streaming bool
	closed    bool
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	frames atomic.Uint64
}

func (s *patternSession) ID() string { return s.id }

func (s *patternSession) StartStreaming(h FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.streaming {
		return fmt.Errorf("%w: session %s already streaming or closed", ErrSessionState, s.id)
	}
	s.streaming = true

	s.wg.Add(1)
	go s.run(h)
	return nil
}

// run is the capture context of the synthetic camera.
func (s *patternSession) run(h FrameHandler) {
	defer s.wg.Done()

	interval := time.Duration(float64(time.Second) / s.device.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	img := newPatternImage(s.width, s.height, s.device.cfg.PixelStride)
	for {
		select {
		case <-s.stop:
			return
		case ts := <-ticker.C:
			n := s.frames.Add(1)
			img.paint(n)
			if !s.gate.Enter() {
				return
			}
			h(img.YUV420, ts)
			s.gate.Leave()
		}
	}
}

func (s *patternSession) Stop() {
	s.gate.Close()
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *patternSession) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.device.active.Add(-1)
	s.device.busy.Store(false)
	s.device.logger.WithFields(logrus.Fields{
		"session": s.id,
		"frames":  s.frames.Load(),
	}).Info("capture: pattern session closed")
	return nil
}

// patternImage owns the plane buffers reused for every frame, the way a
// camera HAL recycles its image buffers.
type patternImage struct {
	*colorconv.YUV420
	vu []byte
}

func newPatternImage(w, h, stride int) *patternImage {
	n := (w / 2) * (h / 2)
	img := &patternImage{YUV420: &colorconv.YUV420{
		Width:       w,
		Height:      h,
		Y:           make([]byte, w*h),
		PixelStride: stride,
	}}
	if stride == 2 {
		img.vu = make([]byte, 2*n)
		img.V = img.vu[:2*n-1]
		img.U = img.vu[1:]
	} else {
		img.U = make([]byte, n)
		img.V = make([]byte, n)
	}
	return img
}

// paint draws frame n: a horizontal luma gradient with a bright vertical bar
// sweeping left to right, chroma varying over the image.
func (p *patternImage) paint(n uint64) {
	w, h := p.Width, p.Height
	bar := int(n*4) % w
	for y := 0; y < h; y++ {
		row := p.Y[y*w : (y+1)*w]
		for x := range row {
			v := 16 + (x*219)/w
			if x >= bar && x < bar+8 {
				v = 235
			}
			row[x] = byte(v)
		}
	}

	cw, ch := w/2, h/2
	s := p.PixelStride
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			k := (y*cw + x) * s
			p.U[k] = byte(64 + (x*128)/cw)
			p.V[k] = byte(64 + (y*128)/ch)
		}
	}
}
