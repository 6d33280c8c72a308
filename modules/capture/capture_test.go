package capture

import (
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
)

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestClassifyDeviceError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Could not open device '/dev/video0' for reading and writing: Permission denied", ErrPermissionDenied},
		{"Device '/dev/video0' is busy", ErrDeviceBusy},
		{"Cannot identify device '/dev/video9'", ErrDeviceUnavailable},
		{"Could not open device: No such file or directory", ErrDeviceUnavailable},
		{"internal data stream error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDeviceError(tt.msg))
		})
	}
}

func TestGate_CloseWaitsForInFlight(t *testing.T) {
	var g Gate
	require.True(t, g.Enter())

	closed := make(chan struct{})
	go func() {
		g.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	g.Leave()
	<-closed
	assert.False(t, g.Enter())
	assert.True(t, g.Closed())

	g.Reopen()
	require.True(t, g.Enter())
	g.Leave()
}

func TestPatternDevice_DeliversValidFrames(t *testing.T) {
	for _, stride := range []int{1, 2} {
		t.Run(map[int]string{1: "planar", 2: "interleaved"}[stride], func(t *testing.T) {
			dev := NewPatternDevice(PatternConfig{FPS: 200, PixelStride: stride, Logger: quiet()})
			s, err := dev.Open(context.Background(), Selector{}, 16, 8)
			require.NoError(t, err)
			defer s.Close()

			var got atomic.Int32
			var convErr atomic.Value
			require.NoError(t, s.StartStreaming(func(img *colorconv.YUV420, _ time.Time) {
				if _, err := colorconv.YUV420ToRGBA(img); err != nil {
					convErr.Store(err)
				}
				got.Add(1)
			}))

			require.Eventually(t, func() bool { return got.Load() >= 3 }, 2*time.Second, time.Millisecond)
			assert.Nil(t, convErr.Load())
		})
	}
}

func TestPatternDevice_Exclusive(t *testing.T) {
	dev := NewPatternDevice(PatternConfig{Logger: quiet()})

	s1, err := dev.Open(context.Background(), Selector{Device: PatternDeviceName}, 8, 8)
	require.NoError(t, err)

	_, err = dev.Open(context.Background(), Selector{}, 8, 8)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Equal(t, 1, dev.ActiveSessions())

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	assert.Equal(t, 0, dev.ActiveSessions())

	s2, err := dev.Open(context.Background(), Selector{}, 8, 8)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
	assert.Equal(t, uint64(2), dev.Opens())
}

func TestPatternDevice_OpenErrors(t *testing.T) {
	dev := NewPatternDevice(PatternConfig{Logger: quiet()})

	_, err := dev.Open(context.Background(), Selector{Device: "/dev/video7"}, 8, 8)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = dev.Open(context.Background(), Selector{}, 7, 8)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	denied := NewPatternDevice(PatternConfig{OpenErr: ErrPermissionDenied, Logger: quiet()})
	_, err = denied.Open(context.Background(), Selector{}, 8, 8)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	slow := NewPatternDevice(PatternConfig{OpenDelay: time.Hour, Logger: quiet()})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Open(ctx, Selector{}, 8, 8)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, slow.ActiveSessions())
}

func TestPatternSession_NoCallbackAfterStop(t *testing.T) {
	dev := NewPatternDevice(PatternConfig{FPS: 1000, Logger: quiet()})
	s, err := dev.Open(context.Background(), Selector{}, 8, 8)
	require.NoError(t, err)

	var mu sync.Mutex
	stopped := false
	var late atomic.Int32
	var calls atomic.Int32
	require.NoError(t, s.StartStreaming(func(*colorconv.YUV420, time.Time) {
		mu.Lock()
		if stopped {
			late.Add(1)
		}
		mu.Unlock()
		calls.Add(1)
	}))

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, time.Millisecond)
	s.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, late.Load())
	assert.ErrorIs(t, s.StartStreaming(func(*colorconv.YUV420, time.Time) {}), ErrSessionState)
	require.NoError(t, s.Close())
}
