package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/capture"
	"github.com/e7canasta/orion-liveview/modules/framedispatch"
	"github.com/e7canasta/orion-liveview/modules/frameslot"
	"github.com/e7canasta/orion-liveview/modules/processing"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Config configures a Controller. The capture resolution is fixed for the
// controller's lifetime.
type Config struct {
	// Device is the camera source. Required.
	Device capture.Device

	// Selector picks the camera; empty selects the first one.
	Selector capture.Selector

	// Width and Height are the capture target. Default 640×480.
	Width  int
	Height int

	// Processor transforms frames on the worker. Default Passthrough.
	Processor processing.Processor

	// LatencyLogEvery is forwarded to the dispatcher.
	LatencyLogEvery int

	Logger *logrus.Entry
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	State   State
	Runs    uint64
	Session string

	// Dispatch covers the current run, or the last one once stopped.
	Dispatch framedispatch.Stats
	Inbox    frameslot.Stats
	Outbox   frameslot.Stats

	// Display is nil until a Renderer is attached.
	Display *DisplayStats
}

// Controller is the pipeline state machine.
//
// Start and Stop may be called from different goroutines. Stop never waits
// on a capture callback that is itself waiting on the controller: callbacks
// only touch the dispatcher, never the controller lock.
type Controller struct {
	cfg    Config
	logger *logrus.Entry

	inbox  *frameslot.Slot
	outbox *frameslot.Slot

	mu         sync.Mutex
	state      State
	cancelOpen context.CancelFunc
	startDone  chan struct{}
	stopDone   chan struct{}
	session    capture.Session
	dispatcher framedispatch.Dispatcher
	renderer   *Renderer

	runs atomic.Uint64
}

// New validates cfg and creates a stopped Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, errors.New("pipeline: capture device is required")
	}
	if cfg.Width == 0 && cfg.Height == 0 {
		cfg.Width, cfg.Height = DefaultWidth, DefaultHeight
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("pipeline: invalid capture resolution %dx%d (positive, even)", cfg.Width, cfg.Height)
	}
	if cfg.Processor == nil {
		cfg.Processor = processing.Passthrough{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Controller{
		cfg:    cfg,
		logger: logger.WithField("component", "pipeline"),
		inbox:  frameslot.New("capture"),
		outbox: frameslot.New("display"),
		state:  StateStopped,
	}, nil
}

// DisplaySlot is the worker→render slot a Renderer reads from.
func (c *Controller) DisplaySlot() *frameslot.Slot {
	return c.outbox
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the camera and starts the data path. It blocks until the
// device is ready, ctx is cancelled, or Stop interrupts it.
//
// Device errors (capture.ErrPermissionDenied, capture.ErrDeviceUnavailable,
// capture.ErrDeviceBusy) leave the pipeline Stopped. Calling Start while not
// Stopped returns ErrAlreadyRunning without changing anything.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		state := c.state
		c.mu.Unlock()
		c.logger.WithField("state", state).Debug("pipeline: start ignored")
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	openCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelOpen = cancel
	c.startDone = done
	c.mu.Unlock()

	defer close(done)
	defer cancel()

	c.logger.WithFields(logrus.Fields{
		"device":     c.cfg.Selector.String(),
		"resolution": fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
	}).Info("pipeline: starting")

	started := time.Now()
	session, err := c.cfg.Device.Open(openCtx, c.cfg.Selector, c.cfg.Width, c.cfg.Height)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStarting {
		// Stop arrived while the device was opening.
		if session != nil {
			if cerr := session.Close(); cerr != nil {
				c.logger.WithError(cerr).Warn("pipeline: closing aborted session")
			}
		}
		c.state = StateStopped
		c.logger.Info("pipeline: start aborted")
		return ErrStartAborted
	}
	if err != nil {
		c.state = StateStopped
		c.logger.WithError(err).Error("pipeline: failed to open capture device")
		return fmt.Errorf("pipeline: open %s: %w", c.cfg.Selector, err)
	}

	c.inbox.Reopen()
	c.outbox.Reopen()

	dispatcher, err := framedispatch.New(framedispatch.Config{
		Processor:       c.cfg.Processor,
		Inbox:           c.inbox,
		Outbox:          c.outbox,
		Logger:          c.logger,
		LatencyLogEvery: c.cfg.LatencyLogEvery,
	})
	if err == nil {
		err = dispatcher.Start(context.WithoutCancel(ctx))
	}
	if err != nil {
		_ = session.Close()
		c.state = StateStopped
		return fmt.Errorf("pipeline: start dispatcher: %w", err)
	}

	if err := session.StartStreaming(dispatcher.OnCapture); err != nil {
		dispatcher.Stop()
		_ = session.Close()
		c.state = StateStopped
		return fmt.Errorf("pipeline: start streaming: %w", err)
	}

	c.session = session
	c.dispatcher = dispatcher
	c.state = StateRunning
	run := c.runs.Add(1)

	c.logger.WithFields(logrus.Fields{
		"session":  session.ID(),
		"run":      run,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("pipeline: running")
	return nil
}

// Stop tears the pipeline down. From Starting it cancels the pending open
// and waits for Start to give up. Once Stop returns no slot is written again
// and the device is released. A Stop issued while another is tearing down
// waits for it and returns nil. Returns ErrNotRunning when Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateStarting:
		c.state = StateStopping
		cancel, done := c.cancelOpen, c.startDone
		c.stopDone = done
		c.mu.Unlock()

		cancel()
		<-done
		return nil

	case StateRunning:
		c.state = StateStopping
		session, dispatcher := c.session, c.dispatcher
		done := make(chan struct{})
		c.stopDone = done
		c.mu.Unlock()

		err := c.teardown(session, dispatcher)

		c.mu.Lock()
		c.session = nil
		c.state = StateStopped
		c.mu.Unlock()
		close(done)
		return err

	case StateStopping:
		done := c.stopDone
		c.mu.Unlock()

		<-done
		return nil

	default:
		c.mu.Unlock()
		return ErrNotRunning
	}
}

func (c *Controller) teardown(session capture.Session, dispatcher framedispatch.Dispatcher) error {
	c.logger.WithField("session", session.ID()).Info("pipeline: stopping")

	session.Stop()
	dispatcher.Stop()

	c.inbox.Close()
	c.outbox.Close()

	var err error
	if cerr := session.Close(); cerr != nil {
		err = fmt.Errorf("pipeline: release device: %w", cerr)
		c.logger.WithError(cerr).Warn("pipeline: device release failed")
	}

	st := dispatcher.Stats()
	c.logger.WithFields(logrus.Fields{
		"captured":    st.Captured,
		"processed":   st.Processed,
		"failures":    st.ProcessingFailures,
		"inbox_drops": st.InboxDrops,
	}).Info("pipeline: stopped")
	return err
}

// Stats returns a snapshot. Safe from any goroutine.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	st := Stats{State: c.state, Runs: c.runs.Load()}
	if c.session != nil {
		st.Session = c.session.ID()
	}
	dispatcher, renderer := c.dispatcher, c.renderer
	c.mu.Unlock()

	if dispatcher != nil {
		st.Dispatch = dispatcher.Stats()
	}
	st.Inbox = c.inbox.Stats()
	st.Outbox = c.outbox.Stats()
	if renderer != nil {
		ds := renderer.Stats()
		st.Display = &ds
	}
	return st
}
