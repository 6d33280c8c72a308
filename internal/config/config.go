package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete liveview configuration
type Config struct {
	InstanceID     string           `yaml:"instance_id"`
	StatsIntervalS int              `yaml:"stats_interval_s"` // Periodic stats log interval in seconds (0 disables)
	Capture        CaptureConfig    `yaml:"capture"`
	Processing     ProcessingConfig `yaml:"processing"`
	Display        DisplayConfig    `yaml:"display"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	HTTP           HTTPConfig       `yaml:"http"`
}

// CaptureConfig contains camera settings
type CaptureConfig struct {
	Source  string        `yaml:"source"` // pattern, v4l2
	Device  string        `yaml:"device"` // /dev/videoN for v4l2, empty selects the first camera
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Format  string        `yaml:"format"` // i420, nv21 (v4l2 only)
	Pattern PatternConfig `yaml:"pattern"`
}

// PatternConfig contains synthetic camera settings
type PatternConfig struct {
	FPS         float64 `yaml:"fps"`
	PixelStride int     `yaml:"pixel_stride"` // 1 planar, 2 interleaved chroma
}

// ProcessingConfig selects the frame transform run by the worker
type ProcessingConfig struct {
	Kind            string           `yaml:"kind"` // passthrough, grayscale, delay, canny, subprocess
	DelayMS         int              `yaml:"delay_ms"`
	LatencyLogEvery int              `yaml:"latency_log_every"`
	Canny           CannyConfig      `yaml:"canny"`
	Subprocess      SubprocessConfig `yaml:"subprocess"`
}

// CannyConfig contains edge detector thresholds
type CannyConfig struct {
	LowThreshold  float32 `yaml:"low_threshold"`
	HighThreshold float32 `yaml:"high_threshold"`
	BlurKernel    int     `yaml:"blur_kernel"` // odd, 0 disables
}

// SubprocessConfig describes an external processing program
type SubprocessConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

// DisplayConfig contains render loop settings
type DisplayConfig struct {
	Headless bool   `yaml:"headless"`
	Title    string `yaml:"title"`
	Width    int    `yaml:"width"`  // window width
	Height   int    `yaml:"height"` // window height
	VSync    bool   `yaml:"vsync"`
	TickHz   int    `yaml:"tick_hz"` // headless render tick rate
}

// MetricsConfig contains metric sink settings
type MetricsConfig struct {
	Mailbox   int             `yaml:"mailbox"` // per-sink event buffer
	Log       LogSinkConfig   `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// LogSinkConfig toggles metric logging
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	Control     bool   `yaml:"control"` // accept start/stop commands on <topic_prefix>/control
}

// WebSocketConfig contains the viewer feed settings, served on the HTTP listener
type WebSocketConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// HTTPConfig contains the health/stats listener settings
type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

// Default returns the configuration used without a file: synthetic camera,
// passthrough processing, windowed display, log sink only.
func Default() *Config {
	return &Config{
		InstanceID:     "liveview",
		StatsIntervalS: 10,
		Capture: CaptureConfig{
			Source:  "pattern",
			Width:   640,
			Height:  480,
			Format:  "nv21",
			Pattern: PatternConfig{FPS: 30, PixelStride: 1},
		},
		Processing: ProcessingConfig{
			Kind:            "passthrough",
			LatencyLogEvery: 30,
			Canny:           CannyConfig{LowThreshold: 80, HighThreshold: 100},
			Subprocess:      SubprocessConfig{TimeoutMS: 2000},
		},
		Display: DisplayConfig{
			Title:  "Orion Live View",
			Width:  1280,
			Height: 720,
			VSync:  true,
			TickHz: 60,
		},
		Metrics: MetricsConfig{
			Mailbox:   8,
			Log:       LogSinkConfig{Enabled: true},
			WebSocket: WebSocketConfig{Path: "/ws"},
		},
		HTTP: HTTPConfig{Listen: ":8090"},
	}
}

// Load reads and parses a YAML configuration file over Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default() and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// StatsInterval returns the periodic stats interval (0 disables)
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalS) * time.Second
}
