package metricsink

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrFanoutClosed = errors.New("metricsink: fanout is closed")
	ErrSinkExists   = errors.New("metricsink: sink already registered")
	ErrSinkNotFound = errors.New("metricsink: sink not found")
	ErrNilSink      = errors.New("metricsink: nil sink")
)

// defaultMailbox is the per-sink buffer. FPS events arrive once per second,
// so a full mailbox means the sink is stuck, not slow.
const defaultMailbox = 8

// SinkStats tracks delivery to one sink.
type SinkStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id    string
	sink  Sink
	ch    chan Event
	sent  atomic.Uint64
	drops atomic.Uint64
	done  chan struct{}
}

// Fanout forwards events to several sinks. Each sink runs on its own
// goroutine behind a bounded mailbox; when the mailbox is full the new event
// is dropped and counted (drop-new). Publishing never blocks.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	closed  bool
	mailbox int
	now     func() time.Time

	published atomic.Uint64
}

var _ Sink = (*Fanout)(nil)

// NewFanout creates an empty Fanout. mailbox <= 0 selects the default size.
func NewFanout(mailbox int) *Fanout {
	if mailbox <= 0 {
		mailbox = defaultMailbox
	}
	return &Fanout{
		subs:    make(map[string]*subscriber),
		mailbox: mailbox,
		now:     time.Now,
	}
}

// Add registers s under id and starts its delivery goroutine.
func (f *Fanout) Add(id string, s Sink) error {
	if s == nil {
		return ErrNilSink
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFanoutClosed
	}
	if _, exists := f.subs[id]; exists {
		return ErrSinkExists
	}

	sub := &subscriber{
		id:   id,
		sink: s,
		ch:   make(chan Event, f.mailbox),
		done: make(chan struct{}),
	}
	f.subs[id] = sub
	go sub.run()
	return nil
}

func (s *subscriber) run() {
	defer close(s.done)
	for e := range s.ch {
		deliver(s.sink, e)
	}
}

// Remove unregisters id, lets its goroutine drain pending events and waits
// for it.
func (f *Fanout) Remove(id string) error {
	f.mu.Lock()
	sub, exists := f.subs[id]
	if exists {
		delete(f.subs, id)
		close(sub.ch)
	}
	f.mu.Unlock()

	if !exists {
		return ErrSinkNotFound
	}
	<-sub.done
	return nil
}

// FPSUpdated implements Sink.
func (f *Fanout) FPSUpdated(fps float64) {
	f.publish(FPSEvent(fps, f.now()))
}

// ResolutionKnown implements Sink.
func (f *Fanout) ResolutionKnown(width, height int) {
	f.publish(ResolutionEvent(width, height, f.now()))
}

func (f *Fanout) publish(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	f.published.Add(1)

	for _, sub := range f.subs {
		select {
		case sub.ch <- e:
			sub.sent.Add(1)
		default:
			sub.drops.Add(1)
		}
	}
}

// Stats returns delivery statistics for id.
func (f *Fanout) Stats(id string) (SinkStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sub, exists := f.subs[id]
	if !exists {
		return SinkStats{}, ErrSinkNotFound
	}
	return SinkStats{Sent: sub.sent.Load(), Dropped: sub.drops.Load()}, nil
}

// Published returns the number of events accepted while open.
func (f *Fanout) Published() uint64 { return f.published.Load() }

// Close stops accepting events, drains every mailbox and waits for the
// delivery goroutines. Idempotent.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	for _, sub := range subs {
		close(sub.ch)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
