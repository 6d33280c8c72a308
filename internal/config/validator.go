package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.StatsIntervalS < 0 {
		return fmt.Errorf("stats_interval_s must be >= 0")
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validateProcessing(&cfg.Processing); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	if err := validateDisplay(&cfg.Display); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if err := validateMetrics(cfg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	switch c.Source {
	case "pattern":
		if c.Pattern.FPS <= 0 {
			return fmt.Errorf("pattern.fps must be > 0")
		}
		if c.Pattern.PixelStride != 1 && c.Pattern.PixelStride != 2 {
			return fmt.Errorf("pattern.pixel_stride must be 1 or 2, got %d", c.Pattern.PixelStride)
		}
	case "v4l2":
		if c.Format != "i420" && c.Format != "nv21" {
			return fmt.Errorf("format must be 'i420' or 'nv21', got '%s'", c.Format)
		}
		// videoconvert pads odd row strides; keep rows tightly packed.
		if c.Width%8 != 0 {
			return fmt.Errorf("v4l2 width must be a multiple of 8, got %d", c.Width)
		}
	default:
		return fmt.Errorf("unknown source '%s' (must be 'pattern' or 'v4l2')", c.Source)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("resolution must be even for 4:2:0 chroma, got %dx%d", c.Width, c.Height)
	}
	return nil
}

func validateProcessing(p *ProcessingConfig) error {
	switch p.Kind {
	case "passthrough", "grayscale":
	case "delay":
		if p.DelayMS <= 0 {
			return fmt.Errorf("delay_ms must be > 0")
		}
	case "canny":
		if p.Canny.LowThreshold < 0 || p.Canny.HighThreshold < p.Canny.LowThreshold {
			return fmt.Errorf("canny thresholds must satisfy 0 <= low <= high, got %v/%v",
				p.Canny.LowThreshold, p.Canny.HighThreshold)
		}
		if p.Canny.BlurKernel < 0 || (p.Canny.BlurKernel > 0 && p.Canny.BlurKernel%2 == 0) {
			return fmt.Errorf("canny.blur_kernel must be 0 or odd, got %d", p.Canny.BlurKernel)
		}
	case "subprocess":
		if p.Subprocess.Command == "" {
			return fmt.Errorf("subprocess.command is required")
		}
		if p.Subprocess.TimeoutMS <= 0 {
			p.Subprocess.TimeoutMS = 2000 // default
		}
	default:
		return fmt.Errorf("unknown kind '%s'", p.Kind)
	}
	return nil
}

func validateDisplay(d *DisplayConfig) error {
	if d.Headless {
		if d.TickHz <= 0 {
			d.TickHz = 60 // default
		}
		return nil
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", d.Width, d.Height)
	}
	return nil
}

func validateMetrics(cfg *Config) error {
	m := &cfg.Metrics
	if m.Mailbox <= 0 {
		m.Mailbox = 8 // default
	}

	if m.MQTT.Enabled {
		if m.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if m.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", m.MQTT.QoS)
		}
		if m.MQTT.TopicPrefix == "" {
			m.MQTT.TopicPrefix = fmt.Sprintf("care/liveview/%s", cfg.InstanceID)
		}
	}

	if m.WebSocket.Enabled {
		if cfg.HTTP.Listen == "" {
			return fmt.Errorf("websocket requires http.listen")
		}
		if m.WebSocket.Path == "" || m.WebSocket.Path[0] != '/' {
			return fmt.Errorf("websocket.path must start with '/', got '%s'", m.WebSocket.Path)
		}
	}
	return nil
}
