// Package internal implements the frame dispatcher.
//
// This package is INTERNAL - clients MUST use the public API in the parent
// package.
package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/frameslot"
	"github.com/e7canasta/orion-liveview/modules/processing"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("dispatch: already started")

const (
	// defaultLatencyLogEvery: one debug latency line per second at 30 fps.
	defaultLatencyLogEvery = 30

	// conversionWarnEvery throttles conversion-failure warnings. A camera
	// delivering malformed planes fails every frame.
	conversionWarnEvery = 100
)

// Config configures a dispatcher.
type Config struct {
	// Processor is the external transform. Required.
	Processor processing.Processor

	// Inbox is the capture→worker slot. Created when nil.
	Inbox *frameslot.Slot

	// Outbox is the worker→render slot. Created when nil.
	Outbox *frameslot.Slot

	// Logger defaults to the logrus standard logger.
	Logger *logrus.Entry

	// LatencyLogEvery logs processing latency every N processed frames.
	// Default 30; negative disables.
	LatencyLogEvery int
}

// dispatcher is the concrete implementation of framedispatch.Dispatcher.
//
// Goroutine topology:
//   - N external: capture callers of OnCapture/Submit (typically 1)
//   - 1 fixed: workerLoop (spawned by Start, joined by Stop)
//
// Thread-safety: all public methods safe for concurrent use.
type dispatcher struct {
	processor processing.Processor
	inbox     *frameslot.Slot
	outbox    *frameslot.Slot
	logger    *logrus.Entry
	logEvery  uint64

	// wake has capacity 1: a pending signal already covers later publishes.
	wake chan struct{}

	// gate orders OnCapture/Submit against Stop. Producers hold the read
	// side; Stop takes the write side to flip accepting.
	gate      sync.RWMutex
	accepting bool

	seq atomic.Uint64

	// mu serializes Start and Stop; cancel is set before started is.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool

	counters counters
}

// NewDispatcher creates a dispatcher (called by framedispatch.New).
func NewDispatcher(cfg Config) (*dispatcher, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("dispatch: processor is required")
	}
	if cfg.Inbox == nil {
		cfg.Inbox = frameslot.New("inbox")
	}
	if cfg.Outbox == nil {
		cfg.Outbox = frameslot.New("outbox")
	}
	if cfg.Inbox == cfg.Outbox {
		return nil, fmt.Errorf("dispatch: inbox and outbox must be distinct slots")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	every := cfg.LatencyLogEvery
	if every == 0 {
		every = defaultLatencyLogEvery
	}
	if every < 0 {
		every = 0
	}

	return &dispatcher{
		processor: cfg.Processor,
		inbox:     cfg.Inbox,
		outbox:    cfg.Outbox,
		logger:    logger.WithField("component", "dispatch"),
		logEvery:  uint64(every),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Start spawns the worker (implements Dispatcher.Start).
func (d *dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.gate.Lock()
	d.accepting = true
	d.gate.Unlock()

	d.wg.Add(1)
	go d.workerLoop()

	d.logger.WithFields(logrus.Fields{
		"inbox":  d.inbox.Name(),
		"outbox": d.outbox.Name(),
	}).Debug("dispatch: worker started")
	return nil
}

// Stop shuts the worker down (implements Dispatcher.Stop).
//
// Order:
//  1. accepting = false under the write gate (waits for in-flight producers)
//  2. cancel ctx (interrupts a long Process call)
//  3. join the worker
func (d *dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.stopped {
		return
	}
	d.stopped = true

	d.gate.Lock()
	d.accepting = false
	d.gate.Unlock()

	d.cancel()
	d.wg.Wait()

	d.logger.WithFields(logrus.Fields{
		"processed": d.counters.processed.Load(),
		"failures":  d.counters.processingFailures.Load(),
	}).Debug("dispatch: worker stopped")
}

// OnCapture implements Dispatcher.OnCapture.
func (d *dispatcher) OnCapture(img *colorconv.YUV420, ts time.Time) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if !d.accepting {
		return
	}

	d.counters.captured.Add(1)

	rgba, err := colorconv.YUV420ToRGBA(img)
	if err != nil {
		n := d.counters.conversionErrors.Add(1)
		if n == 1 || n%conversionWarnEvery == 0 {
			d.logger.WithFields(logrus.Fields{
				"error":  err,
				"errors": n,
			}).Warn("dispatch: dropping frame, conversion failed")
		}
		return
	}

	d.publishLocked(frame.New(rgba, img.Width, img.Height, ts))
}

// Submit implements Dispatcher.Submit.
func (d *dispatcher) Submit(f *frame.Frame) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if !d.accepting || f == nil {
		return
	}

	d.counters.captured.Add(1)
	d.publishLocked(f)
}

// publishLocked stamps f and hands it to the worker. Caller holds the read gate.
func (d *dispatcher) publishLocked(f *frame.Frame) {
	f.Seq = d.seq.Add(1)
	f.TraceID = uuid.NewString()

	d.inbox.Publish(f)

	select {
	case d.wake <- struct{}{}:
	default:
		// Wake already pending; the worker will take the newest frame.
	}
}

// workerLoop processes the newest inbox frame on every wake.
func (d *dispatcher) workerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		}

		in, ok := d.inbox.TryTake()
		if !ok {
			continue
		}
		d.process(in)
	}
}

func (d *dispatcher) process(in *frame.Frame) {
	start := time.Now()
	out, err := processing.Run(d.ctx, d.processor, in)
	elapsed := time.Since(start)

	if d.ctx.Err() != nil {
		// Stopping: the result must not reach the outbox.
		return
	}

	if err != nil {
		d.counters.processingFailures.Add(1)
		d.logger.WithFields(logrus.Fields{
			"seq":      in.Seq,
			"trace_id": in.TraceID,
			"error":    err,
		}).Warn("dispatch: dropping frame, processing failed")
		return
	}

	d.outbox.Publish(out)

	n := d.counters.recordProcessed(elapsed)
	if d.logEvery > 0 && n%d.logEvery == 0 {
		d.logger.WithFields(logrus.Fields{
			"seq":        out.Seq,
			"trace_id":   out.TraceID,
			"latency_ms": float64(elapsed.Microseconds()) / 1000,
			"resolution": out.Resolution(),
		}).Debug("dispatch: processing latency")
	}
}

// Inbox implements Dispatcher.Inbox.
func (d *dispatcher) Inbox() *frameslot.Slot { return d.inbox }

// Outbox implements Dispatcher.Outbox.
func (d *dispatcher) Outbox() *frameslot.Slot { return d.outbox }
