package frameslot

import (
	"sync/atomic"

	"github.com/e7canasta/orion-liveview/modules/frame"
)

// sealed marks a closed slot. It is never handed out to readers.
var sealed = &frame.Frame{}

// Slot is a single-frame mailbox with overwrite-on-write and
// take-and-clear-on-read semantics.
//
// States of the pointer:
//   - nil: empty (nothing unread)
//   - sealed: closed (Publish is a no-op, TryTake reports empty)
//   - other: one unread frame
type Slot struct {
	name string
	cur  atomic.Pointer[frame.Frame]

	published atomic.Uint64 // Frames stored by Publish
	taken     atomic.Uint64 // Frames handed out by TryTake
	dropped   atomic.Uint64 // Unread frames replaced by Publish or discarded by Clear/Close
}

// Stats is a snapshot of slot counters.
type Stats struct {
	Name      string
	Published uint64
	Taken     uint64
	Dropped   uint64
	Pending   bool // True if an unread frame is waiting
}

// New creates an empty, open slot. The name only shows up in Stats.
func New(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot name.
func (s *Slot) Name() string {
	return s.name
}

// Publish stores f, replacing any unread frame. Never blocks, never fails.
// Publishing to a closed slot is a no-op. A nil frame is ignored.
func (s *Slot) Publish(f *frame.Frame) {
	if f == nil {
		return
	}
	for {
		old := s.cur.Load()
		if old == sealed {
			return
		}
		if s.cur.CompareAndSwap(old, f) {
			s.published.Add(1)
			if old != nil {
				s.dropped.Add(1)
			}
			return
		}
	}
}

// TryTake takes the unread frame and leaves the slot empty. It returns
// (nil, false) without blocking when there is nothing new.
func (s *Slot) TryTake() (*frame.Frame, bool) {
	for {
		old := s.cur.Load()
		if old == nil || old == sealed {
			return nil, false
		}
		if s.cur.CompareAndSwap(old, nil) {
			s.taken.Add(1)
			return old, true
		}
	}
}

// Clear discards any unread frame. The slot stays open (or closed).
func (s *Slot) Clear() {
	for {
		old := s.cur.Load()
		if old == nil || old == sealed {
			return
		}
		if s.cur.CompareAndSwap(old, nil) {
			s.dropped.Add(1)
			return
		}
	}
}

// Close seals the slot and discards any unread frame.
// Idempotent.
func (s *Slot) Close() {
	old := s.cur.Swap(sealed)
	if old != nil && old != sealed {
		s.dropped.Add(1)
	}
}

// Reopen unseals a closed slot. An open slot is left untouched.
func (s *Slot) Reopen() {
	s.cur.CompareAndSwap(sealed, nil)
}

// Closed reports whether the slot is sealed.
func (s *Slot) Closed() bool {
	return s.cur.Load() == sealed
}

// Stats returns a snapshot of the slot counters.
func (s *Slot) Stats() Stats {
	cur := s.cur.Load()
	return Stats{
		Name:      s.name,
		Published: s.published.Load(),
		Taken:     s.taken.Load(),
		Dropped:   s.dropped.Load(),
		Pending:   cur != nil && cur != sealed,
	}
}
