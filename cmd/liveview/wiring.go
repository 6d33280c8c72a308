package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/internal/config"
	"github.com/e7canasta/orion-liveview/internal/control"
	"github.com/e7canasta/orion-liveview/internal/health"
	"github.com/e7canasta/orion-liveview/modules/capture"
	"github.com/e7canasta/orion-liveview/modules/capture/gstv4l2"
	"github.com/e7canasta/orion-liveview/modules/metricsink"
	"github.com/e7canasta/orion-liveview/modules/pipeline"
	"github.com/e7canasta/orion-liveview/modules/processing"
	"github.com/e7canasta/orion-liveview/modules/processing/canny"
	"github.com/e7canasta/orion-liveview/modules/processing/subprocess"
)

func newDevice(cfg *config.Config, logger *logrus.Entry) (capture.Device, error) {
	switch cfg.Capture.Source {
	case "v4l2":
		dev, err := gstv4l2.New(gstv4l2.Config{
			Format: strings.ToUpper(cfg.Capture.Format),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2 device: %w", err)
		}
		return dev, nil
	default:
		return capture.NewPatternDevice(capture.PatternConfig{
			FPS:         cfg.Capture.Pattern.FPS,
			PixelStride: cfg.Capture.Pattern.PixelStride,
			Logger:      logger,
		}), nil
	}
}

func newProcessor(cfg *config.Config, logger *logrus.Entry) (processing.Processor, func(), error) {
	nop := func() {}
	p := cfg.Processing

	switch p.Kind {
	case "grayscale":
		return processing.Grayscale{}, nop, nil
	case "delay":
		return processing.Delay{Latency: time.Duration(p.DelayMS) * time.Millisecond}, nop, nil
	case "canny":
		proc, err := canny.New(canny.Config{
			LowThreshold:  p.Canny.LowThreshold,
			HighThreshold: p.Canny.HighThreshold,
			BlurKernel:    p.Canny.BlurKernel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create canny processor: %w", err)
		}
		return proc, nop, nil
	case "subprocess":
		proc, err := subprocess.New(subprocess.Config{
			Command: p.Subprocess.Command,
			Args:    p.Subprocess.Args,
			Timeout: time.Duration(p.Subprocess.TimeoutMS) * time.Millisecond,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create subprocess processor: %w", err)
		}
		return proc, func() {
			if err := proc.Close(); err != nil {
				logger.WithError(err).Warn("processor shutdown failed")
			}
		}, nil
	default:
		return processing.Passthrough{}, nop, nil
	}
}

// sinkSet owns the metric sinks behind one Fanout.
type sinkSet struct {
	fanout *metricsink.Fanout
	ids    []string
	mqtt   *metricsink.MQTTSink
	hub    *metricsink.WebSocketHub
	logger *logrus.Entry
}

func newSinks(ctx context.Context, cfg *config.Config, logger *logrus.Entry) (*sinkSet, error) {
	m := cfg.Metrics
	s := &sinkSet{fanout: metricsink.NewFanout(m.Mailbox), logger: logger}

	add := func(id string, sink metricsink.Sink) error {
		if err := s.fanout.Add(id, sink); err != nil {
			return fmt.Errorf("failed to register %s sink: %w", id, err)
		}
		s.ids = append(s.ids, id)
		return nil
	}

	if m.Log.Enabled {
		if err := add("log", metricsink.NewLogSink(logger)); err != nil {
			s.Close()
			return nil, err
		}
	}

	if m.MQTT.Enabled {
		clientID := m.MQTT.ClientID
		if clientID == "" {
			clientID = fmt.Sprintf("liveview-%s-%s", cfg.InstanceID, uuid.NewString()[:8])
		}
		sink, err := metricsink.NewMQTTSink(metricsink.MQTTConfig{
			Broker:      m.MQTT.Broker,
			ClientID:    clientID,
			TopicPrefix: m.MQTT.TopicPrefix,
			QoS:         m.MQTT.QoS,
			Retain:      m.MQTT.Retain,
			Logger:      logger,
		})
		if err == nil {
			err = sink.Connect(ctx)
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect mqtt sink: %w", err)
		}
		s.mqtt = sink
		if err := add("mqtt", sink); err != nil {
			s.Close()
			return nil, err
		}
	}

	if m.WebSocket.Enabled {
		s.hub = metricsink.NewWebSocketHub(m.WebSocket.AllowedOrigin, logger)
		if err := add("websocket", s.hub); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close drains the fanout, then shuts the transports down.
func (s *sinkSet) Close() {
	s.fanout.Close()

	if s.hub != nil {
		s.hub.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
}

// startHTTP serves health, stats and the viewer feed. The returned function
// shuts the listener down.
func startHTTP(cfg *config.Config, ctrl *pipeline.Controller, sinks *sinkSet, logger *logrus.Entry) func() {
	if cfg.HTTP.Listen == "" {
		return func() {}
	}

	var mqttConnected func() bool
	if sinks.mqtt != nil {
		mqttConnected = sinks.mqtt.Connected
	}

	mux := http.NewServeMux()
	health.New(ctrl, mqttConnected, logger).Register(mux)
	endpoints := []string{"/health", "/readiness", "/stats"}
	if sinks.hub != nil {
		mux.Handle(cfg.Metrics.WebSocket.Path, sinks.hub)
		endpoints = append(endpoints, cfg.Metrics.WebSocket.Path)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"listen":    cfg.HTTP.Listen,
		"endpoints": endpoints,
	}).Info("starting http server")

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("http server shutdown failed")
		}
	}
}

// startControl accepts start/stop/status commands over the metrics MQTT
// session. The returned function stops the handler.
func startControl(ctx context.Context, cfg *config.Config, ctrl *pipeline.Controller, sinks *sinkSet, logger *logrus.Entry) (func(), error) {
	if sinks.mqtt == nil || !cfg.Metrics.MQTT.Control {
		return func() {}, nil
	}

	h := control.NewHandler(sinks.mqtt.Client(), control.Config{
		Topic:  cfg.Metrics.MQTT.TopicPrefix + "/control",
		QoS:    1,
		Logger: logger,
	}, control.Callbacks{
		OnGetStatus: func() map[string]interface{} { return statusMap(ctrl.Stats()) },
		OnStart:     func() error { return ctrl.Start(ctx) },
		OnStop:      ctrl.Stop,
	})
	if err := h.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start control plane: %w", err)
	}
	return h.Stop, nil
}

func statusMap(st pipeline.Stats) map[string]interface{} {
	status := map[string]interface{}{
		"state":     st.State.String(),
		"runs":      st.Runs,
		"captured":  st.Dispatch.Captured,
		"processed": st.Dispatch.Processed,
		"failures":  st.Dispatch.ProcessingFailures,
	}
	if d := st.Display; d != nil {
		status["fps"] = d.FPS
		status["resolution"] = fmt.Sprintf("%dx%d", d.Width, d.Height)
	}
	return status
}
