package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "pattern", cfg.Capture.Source)
	assert.Equal(t, 640, cfg.Capture.Width)
	assert.Equal(t, 480, cfg.Capture.Height)
	assert.Equal(t, "nv21", cfg.Capture.Format)
	assert.Equal(t, 10*time.Second, cfg.StatsInterval())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instance_id: ward-3-bed-2
capture:
  source: v4l2
  device: /dev/video2
  width: 1280
  height: 720
  format: i420
processing:
  kind: canny
  canny:
    blur_kernel: 5
display:
  headless: true
metrics:
  mqtt:
    enabled: true
    broker: localhost:1883
    qos: 1
    control: true
  websocket:
    enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ward-3-bed-2", cfg.InstanceID)
	assert.Equal(t, "/dev/video2", cfg.Capture.Device)
	assert.Equal(t, "i420", cfg.Capture.Format)
	assert.Equal(t, 1280, cfg.Capture.Width)

	// Unset fields keep their defaults.
	assert.Equal(t, float32(80), cfg.Processing.Canny.LowThreshold)
	assert.Equal(t, float32(100), cfg.Processing.Canny.HighThreshold)
	assert.Equal(t, 5, cfg.Processing.Canny.BlurKernel)
	assert.Equal(t, 60, cfg.Display.TickHz)
	assert.True(t, cfg.Metrics.Log.Enabled)
	assert.Equal(t, ":8090", cfg.HTTP.Listen)
	assert.True(t, cfg.Metrics.MQTT.Control)

	// Derived defaults.
	assert.Equal(t, "care/liveview/ward-3-bed-2", cfg.Metrics.MQTT.TopicPrefix)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("capture: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty instance id", func(c *Config) { c.InstanceID = "" }, "instance_id is required"},
		{"bad instance id", func(c *Config) { c.InstanceID = "Bed 2" }, "instance_id must match"},
		{"negative stats interval", func(c *Config) { c.StatsIntervalS = -1 }, "stats_interval_s"},
		{"unknown source", func(c *Config) { c.Capture.Source = "rtsp" }, "unknown source"},
		{"odd width", func(c *Config) { c.Capture.Width = 641 }, "must be even"},
		{"zero height", func(c *Config) { c.Capture.Height = 0 }, "must be positive"},
		{"bad stride", func(c *Config) { c.Capture.Pattern.PixelStride = 3 }, "pixel_stride"},
		{"v4l2 width alignment", func(c *Config) {
			c.Capture.Source = "v4l2"
			c.Capture.Width = 644
		}, "multiple of 8"},
		{"v4l2 format", func(c *Config) {
			c.Capture.Source = "v4l2"
			c.Capture.Format = "yuyv"
		}, "format must be"},
		{"unknown processor", func(c *Config) { c.Processing.Kind = "blur" }, "unknown kind"},
		{"delay without duration", func(c *Config) { c.Processing.Kind = "delay" }, "delay_ms"},
		{"canny thresholds", func(c *Config) {
			c.Processing.Kind = "canny"
			c.Processing.Canny.LowThreshold = 200
		}, "canny thresholds"},
		{"canny even kernel", func(c *Config) {
			c.Processing.Kind = "canny"
			c.Processing.Canny.BlurKernel = 4
		}, "blur_kernel"},
		{"subprocess without command", func(c *Config) { c.Processing.Kind = "subprocess" }, "subprocess.command"},
		{"window size", func(c *Config) { c.Display.Width = 0 }, "window size"},
		{"mqtt without broker", func(c *Config) { c.Metrics.MQTT.Enabled = true }, "mqtt.broker"},
		{"mqtt qos", func(c *Config) {
			c.Metrics.MQTT.Enabled = true
			c.Metrics.MQTT.Broker = "localhost:1883"
			c.Metrics.MQTT.QoS = 3
		}, "mqtt.qos"},
		{"websocket without listener", func(c *Config) {
			c.Metrics.WebSocket.Enabled = true
			c.HTTP.Listen = ""
		}, "http.listen"},
		{"websocket path", func(c *Config) {
			c.Metrics.WebSocket.Enabled = true
			c.Metrics.WebSocket.Path = "ws"
		}, "websocket.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Processing.Kind = "subprocess"
	cfg.Processing.Subprocess = SubprocessConfig{Command: "/usr/bin/edge-filter"}
	cfg.Display.Headless = true
	cfg.Display.TickHz = 0
	cfg.Metrics.Mailbox = 0

	require.NoError(t, Validate(cfg))
	assert.Equal(t, 2000, cfg.Processing.Subprocess.TimeoutMS)
	assert.Equal(t, 60, cfg.Display.TickHz)
	assert.Equal(t, 8, cfg.Metrics.Mailbox)
}
