package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveview/modules/capture"
	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/processing"
	"github.com/e7canasta/orion-liveview/modules/texture"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newController(t *testing.T, dev capture.Device) *Controller {
	t.Helper()
	c, err := New(Config{Device: dev, Width: 64, Height: 48, Logger: quietLogger()})
	require.NoError(t, err)
	return c
}

func patternDevice(cfg capture.PatternConfig) *capture.PatternDevice {
	cfg.Logger = quietLogger()
	return capture.NewPatternDevice(cfg)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "device required")

	_, err = New(Config{Device: patternDevice(capture.PatternConfig{}), Width: 641, Height: 480})
	assert.Error(t, err, "odd width")

	c, err := New(Config{Device: patternDevice(capture.PatternConfig{}), Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, c.cfg.Width)
	assert.Equal(t, DefaultHeight, c.cfg.Height)
	assert.Equal(t, StateStopped, c.State())
}

func TestController_StopImmediatelyAfterStart(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{FPS: 1})
	c := newController(t, dev)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRunning, c.State())

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop deadlocked")
	}

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, dev.ActiveSessions())
	assert.True(t, c.DisplaySlot().Closed())
}

func TestController_DoubleStart(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{FPS: 1})
	c := newController(t, dev)

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, uint64(1), dev.Opens())
	assert.Equal(t, 1, dev.ActiveSessions())

	require.NoError(t, c.Stop())
	assert.Equal(t, 0, dev.ActiveSessions())
}

func TestController_StopWhenStopped(t *testing.T) {
	c := newController(t, patternDevice(capture.PatternConfig{}))
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
	assert.Equal(t, StateStopped, c.State())
}

func TestController_OpenErrorsLeaveStopped(t *testing.T) {
	for _, want := range []error{capture.ErrPermissionDenied, capture.ErrDeviceUnavailable, capture.ErrDeviceBusy} {
		t.Run(want.Error(), func(t *testing.T) {
			dev := patternDevice(capture.PatternConfig{OpenErr: want})
			c := newController(t, dev)

			err := c.Start(context.Background())
			assert.ErrorIs(t, err, want)
			assert.Equal(t, StateStopped, c.State())
			assert.ErrorIs(t, c.Stop(), ErrNotRunning)
			assert.Equal(t, uint64(0), c.Stats().Runs)
		})
	}
}

func TestController_StopDuringStarting(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{OpenDelay: time.Minute})
	c := newController(t, dev)

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateStarting }, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	select {
	case err := <-startErr:
		assert.ErrorIs(t, err, ErrStartAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, dev.ActiveSessions())
	assert.Equal(t, uint64(0), dev.Opens())
}

func TestController_StopWhileStoppingWaitsForTeardown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	// Ignores ctx so the first Stop stays in teardown until released.
	slow := processing.Func(func(_ context.Context, in *frame.Frame) (*frame.Frame, error) {
		once.Do(func() { close(entered) })
		<-release
		return in, nil
	})

	dev := patternDevice(capture.PatternConfig{FPS: 200})
	c, err := New(Config{Device: dev, Width: 64, Height: 48, Processor: slow, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	<-entered

	first := make(chan error, 1)
	go func() { first <- c.Stop() }()
	require.Eventually(t, func() bool { return c.State() == StateStopping }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.Stop() }()

	select {
	case <-second:
		t.Fatal("second Stop returned before teardown finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return")
		}
	}
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, dev.ActiveSessions())
}

func TestController_StartCancelledByContext(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{OpenDelay: time.Minute})
	c := newController(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, c.State())
}

func TestController_FramesReachRenderer(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{FPS: 200})
	c := newController(t, dev)

	backend := texture.NewMemoryBackend()
	r := c.NewRenderer(RendererConfig{Backend: backend, Logger: quietLogger()})
	require.NoError(t, r.OnSurfaceCreated())

	require.NoError(t, c.Start(context.Background()))

	// The test goroutine acts as the render context.
	require.Eventually(t, func() bool {
		r.OnDrawFrame()
		return r.Stats().Frames >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())

	st := c.Stats()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, uint64(1), st.Runs)
	assert.GreaterOrEqual(t, st.Dispatch.Processed, uint64(3))
	require.NotNil(t, st.Display)
	assert.Equal(t, 64, st.Display.Width)
	assert.Equal(t, 48, st.Display.Height)
	assert.Equal(t, uint64(1), st.Display.Texture.Reallocations)
	assert.False(t, st.Outbox.Pending)

	// Nothing is published after Stop.
	published := c.DisplaySlot().Stats().Published
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, published, c.DisplaySlot().Stats().Published)
	_, ok := c.DisplaySlot().TryTake()
	assert.False(t, ok)
}

func TestController_Restart(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{FPS: 100})
	c := newController(t, dev)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Start(context.Background()))
		require.NoError(t, c.Stop())
	}
	assert.Equal(t, uint64(3), c.Stats().Runs)
	assert.Equal(t, uint64(3), dev.Opens())
	assert.Equal(t, 0, dev.ActiveSessions())
}

func TestController_ConcurrentStartStop(t *testing.T) {
	dev := patternDevice(capture.PatternConfig{FPS: 500})
	c := newController(t, dev)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = c.Stop()
		}()
	}
	wg.Wait()

	// Drain whatever state the race left behind.
	require.Eventually(t, func() bool {
		_ = c.Stop()
		return c.State() == StateStopped
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, dev.ActiveSessions())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestState_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Stats{State: StateRunning})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"State":"running"`)
}
