// Package throughput measures delivered frames per second over rolling
// one-second windows.
//
// Tick is called once per displayed frame, never once per render tick, so
// the value reflects delivered frames rather than attempted draws. Poll lets a
// render loop close a window without a new frame, so a stalled pipeline
// reports 0 FPS instead of freezing on the last value.
package throughput

import (
	"sync"
	"time"
)

const (
	// Window is the minimum elapsed time before an FPS value is published.
	Window = time.Second

	// historySize bounds the number of closed windows kept for Summary.
	historySize = 60
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Meter counts frames and publishes FPS once per window.
//
// Safe for concurrent use, although in the pipeline only the render context
// calls Tick and Poll.
type Meter struct {
	mu       sync.Mutex
	clock    Clock
	onUpdate func(fps float64)

	count       int
	windowStart time.Time

	last    float64
	total   uint64
	history []float64
}

// Option configures a Meter.
type Option func(*Meter)

// WithClock injects a time source.
func WithClock(c Clock) Option {
	return func(m *Meter) { m.clock = c }
}

// WithOnUpdate registers the callback invoked with each published FPS value.
// The callback runs on the caller of Tick/Poll and must not block.
func WithOnUpdate(fn func(fps float64)) Option {
	return func(m *Meter) { m.onUpdate = fn }
}

// New creates a Meter whose first window starts now.
func New(opts ...Option) *Meter {
	m := &Meter{clock: SystemClock{}}
	for _, opt := range opts {
		opt(m)
	}
	m.windowStart = m.clock.Now()
	m.history = make([]float64, 0, historySize)
	return m
}

// Tick counts one displayed frame. It returns the FPS value and true when
// this call closed a window.
func (m *Meter) Tick() (float64, bool) {
	m.mu.Lock()
	m.count++
	m.total++
	fps, ok := m.closeWindowLocked(m.clock.Now())
	cb := m.onUpdate
	m.mu.Unlock()

	if ok && cb != nil {
		cb(fps)
	}
	return fps, ok
}

// Poll closes the current window if it has elapsed, without counting a frame.
func (m *Meter) Poll() (float64, bool) {
	m.mu.Lock()
	fps, ok := m.closeWindowLocked(m.clock.Now())
	cb := m.onUpdate
	m.mu.Unlock()

	if ok && cb != nil {
		cb(fps)
	}
	return fps, ok
}

func (m *Meter) closeWindowLocked(now time.Time) (float64, bool) {
	elapsed := now.Sub(m.windowStart)
	if elapsed < Window {
		return 0, false
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	fps := float64(m.count) * 1000 / elapsedMs

	m.count = 0
	m.windowStart = now
	m.last = fps

	if len(m.history) == historySize {
		copy(m.history, m.history[1:])
		m.history = m.history[:historySize-1]
	}
	m.history = append(m.history, fps)

	return fps, true
}

// FPS returns the most recently published value (0 before the first window).
func (m *Meter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Total returns the number of frames counted since creation or Reset.
func (m *Meter) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Reset discards the current window and history and starts a new window now.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.total = 0
	m.last = 0
	m.windowStart = m.clock.Now()
	m.history = m.history[:0]
}

// Summary returns stability statistics over the recorded windows.
func (m *Meter) Summary() Summary {
	m.mu.Lock()
	windows := make([]float64, len(m.history))
	copy(windows, m.history)
	m.mu.Unlock()

	return Summarize(windows)
}
