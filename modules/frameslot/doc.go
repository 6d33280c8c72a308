// Package frameslot implements the single-slot, latest-frame-wins handoff
// used between independently paced pipeline stages.
//
// # Philosophy
//
// "Drop frames, never queue. Latency > Completeness."
//
// A Slot holds at most one frame. Publish always succeeds and never blocks:
// a newer frame silently replaces an unread one. TryTake never blocks: it
// takes the frame and leaves the slot empty, or reports that nothing new is
// there.
//
// The pipeline uses two slots:
//
//	capture callback → [slot A] → dispatch worker → [slot B] → render loop
//	   (sensor rate)               (processing rate)           (display rate)
//
// Memory is bounded to one in-flight frame per stage boundary. Under load the
// pipeline shows the freshest frame available; older frames are counted as
// drops. Drops are NOT errors.
//
// # Thread Safety
//
// Every method is safe for concurrent use. The implementation is a
// compare-and-swap exchange on an atomic pointer: no mutex, no sync.Cond,
// no channel, so a publisher can never be stalled by a reader.
//
// # Lifecycle
//
//  1. New(name): empty, open slot
//  2. Publish()/TryTake(): normal operation
//  3. Close(): seals the slot, discards any unread frame; later Publish() calls are no-ops
//  4. Reopen(): unseals for the next pipeline run
package frameslot
