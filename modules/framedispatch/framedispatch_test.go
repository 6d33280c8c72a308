package framedispatch_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/framedispatch"
	"github.com/e7canasta/orion-liveview/modules/processing"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func grayImage(w, h int, y byte) *colorconv.YUV420 {
	n := (w / 2) * (h / 2)
	return &colorconv.YUV420{
		Width:       w,
		Height:      h,
		Y:           bytes.Repeat([]byte{y}, w*h),
		U:           bytes.Repeat([]byte{128}, n),
		V:           bytes.Repeat([]byte{128}, n),
		PixelStride: 1,
	}
}

func newDispatcher(t *testing.T, p processing.Processor) framedispatch.Dispatcher {
	t.Helper()
	d, err := framedispatch.New(framedispatch.Config{Processor: p, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return d
}

// waitOutbox polls the outbox the way the render loop does.
func waitOutbox(t *testing.T, d framedispatch.Dispatcher) *frame.Frame {
	t.Helper()
	var got *frame.Frame
	require.Eventually(t, func() bool {
		f, ok := d.Outbox().TryTake()
		got = f
		return ok
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestOnCapture_ConvertsProcessesAndPublishes(t *testing.T) {
	d := newDispatcher(t, processing.Passthrough{})

	ts := time.Unix(42, 0)
	d.OnCapture(grayImage(4, 2, 235), ts)

	out := waitOutbox(t, d)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 2, out.Height)
	assert.Equal(t, ts, out.Timestamp)
	assert.Equal(t, uint64(1), out.Seq)
	assert.NotEmpty(t, out.TraceID)
	assert.InDelta(t, 255, int(out.Data[0]), 2)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Captured)
	assert.Equal(t, uint64(1), stats.Processed)
}

func TestOnCapture_InvalidGeometryDropsOneFrame(t *testing.T) {
	d := newDispatcher(t, processing.Passthrough{})

	bad := grayImage(4, 2, 16)
	bad.Y = bad.Y[:3]
	d.OnCapture(bad, time.Now())
	d.OnCapture(grayImage(4, 2, 16), time.Now())

	out := waitOutbox(t, d)
	assert.Equal(t, uint64(1), out.Seq, "failed conversions consume no sequence number")

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.ConversionErrors)
	assert.Equal(t, uint64(2), stats.Captured)
}

func TestWorker_ProcessingFailureDropsAndContinues(t *testing.T) {
	var calls atomic.Int32
	p := processing.Func(func(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient native failure")
		}
		return f, nil
	})
	d := newDispatcher(t, p)

	d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	require.Eventually(t, func() bool { return d.Stats().ProcessingFailures == 1 }, 2*time.Second, time.Millisecond)

	_, ok := d.Outbox().TryTake()
	assert.False(t, ok, "failed frame must not reach the outbox")

	d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	out := waitOutbox(t, d)
	assert.Equal(t, uint64(2), out.Seq)
}

func TestWorker_TakesNewestFrameUnderLoad(t *testing.T) {
	release := make(chan struct{})
	var seen []uint64
	var mu sync.Mutex
	p := processing.Func(func(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
		mu.Lock()
		seen = append(seen, f.Seq)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			<-release
		}
		return f, nil
	})
	d := newDispatcher(t, p)

	d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, time.Millisecond)

	// Worker is busy: these overwrite each other in the inbox.
	for i := 0; i < 10; i++ {
		d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{1, 11}, seen)
	mu.Unlock()
	assert.Equal(t, uint64(9), d.Stats().InboxDrops)
}

func TestStop_NoSlotWritesAfterReturn(t *testing.T) {
	entered := make(chan struct{})
	p := processing.Func(func(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
		close(entered)
		<-ctx.Done()
		return f, nil
	})
	d, err := framedispatch.New(framedispatch.Config{Processor: p, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	<-entered

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while Process was in flight")
	}

	before := d.Outbox().Stats().Published
	d.Submit(frame.New(make([]byte, 16), 2, 2, time.Now()))
	d.OnCapture(grayImage(2, 2, 16), time.Now())

	assert.Equal(t, before, d.Outbox().Stats().Published)
	assert.Equal(t, uint64(0), d.Outbox().Stats().Published, "interrupted result discarded")
	_, ok := d.Inbox().TryTake()
	assert.False(t, ok)

	d.Stop()
}

func TestStart_Twice(t *testing.T) {
	d := newDispatcher(t, processing.Passthrough{})
	assert.ErrorIs(t, d.Start(context.Background()), framedispatch.ErrAlreadyStarted)
}

func TestNew_Validation(t *testing.T) {
	_, err := framedispatch.New(framedispatch.Config{})
	assert.Error(t, err)
}

func TestOnCapture_NonBlockingWhileWorkerBusy(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := processing.Func(func(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return f, nil
	})
	d := newDispatcher(t, p)

	img := grayImage(64, 48, 100)
	start := time.Now()
	for i := 0; i < 100; i++ {
		d.OnCapture(img, time.Now())
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(100), d.Stats().Captured)
}

func TestStartStop_Concurrent(t *testing.T) {
	for i := 0; i < 50; i++ {
		d, err := framedispatch.New(framedispatch.Config{Processor: processing.Passthrough{}, Logger: quietLogger()})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = d.Start(context.Background()) }()
		go func() { defer wg.Done(); d.Stop() }()
		wg.Wait()

		// Whichever ran first, a final Stop leaves no worker behind.
		require.NotPanics(t, d.Stop)
	}
}

func TestStop_BeforeStartIsNoop(t *testing.T) {
	d, err := framedispatch.New(framedispatch.Config{Processor: processing.Passthrough{}, Logger: quietLogger()})
	require.NoError(t, err)

	d.Stop()
	require.NoError(t, d.Start(context.Background()))
	d.OnCapture(grayImage(4, 4, 126), time.Now())
	waitOutbox(t, d)
	d.Stop()
}
