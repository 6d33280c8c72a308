package internal

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of dispatcher operational state.
type Stats struct {
	// Captured counts OnCapture/Submit calls accepted while running.
	Captured uint64

	// ConversionErrors counts frames dropped because the YUV planes did not
	// match their declared geometry.
	ConversionErrors uint64

	// InboxDrops counts frames overwritten in the inbox before the worker
	// took them. Non-zero under load is the intended policy.
	InboxDrops uint64

	// Processed counts frames published to the outbox.
	Processed uint64

	// ProcessingFailures counts frames dropped by the processor.
	ProcessingFailures uint64

	// OutboxDrops counts processed frames the render context never took.
	OutboxDrops uint64

	// LastLatency and MeanLatency measure Processor.Process wall time.
	LastLatency time.Duration
	MeanLatency time.Duration
}

type counters struct {
	captured           atomic.Uint64
	conversionErrors   atomic.Uint64
	processed          atomic.Uint64
	processingFailures atomic.Uint64
	totalLatencyNs     atomic.Int64
	lastLatencyNs      atomic.Int64
}

// recordProcessed returns the new processed count.
func (c *counters) recordProcessed(elapsed time.Duration) uint64 {
	c.totalLatencyNs.Add(int64(elapsed))
	c.lastLatencyNs.Store(int64(elapsed))
	return c.processed.Add(1)
}

// Stats returns a snapshot (implements Dispatcher.Stats).
//
// Consistency: counters are read independently and may be slightly skewed
// against each other (acceptable for monitoring).
func (d *dispatcher) Stats() Stats {
	processed := d.counters.processed.Load()
	var mean time.Duration
	if processed > 0 {
		mean = time.Duration(d.counters.totalLatencyNs.Load() / int64(processed))
	}

	return Stats{
		Captured:           d.counters.captured.Load(),
		ConversionErrors:   d.counters.conversionErrors.Load(),
		InboxDrops:         d.inbox.Stats().Dropped,
		Processed:          processed,
		ProcessingFailures: d.counters.processingFailures.Load(),
		OutboxDrops:        d.outbox.Stats().Dropped,
		LastLatency:        time.Duration(d.counters.lastLatencyNs.Load()),
		MeanLatency:        mean,
	}
}
