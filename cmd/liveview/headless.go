package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/internal/config"
	"github.com/e7canasta/orion-liveview/modules/metricsink"
	"github.com/e7canasta/orion-liveview/modules/pipeline"
	"github.com/e7canasta/orion-liveview/modules/texture"
)

// runHeadless drives the renderer from a ticker against an in-memory
// texture backend, standing in for a display's refresh cadence.
func runHeadless(ctx context.Context, cfg *config.Config, ctrl *pipeline.Controller, sink metricsink.Sink, logger *logrus.Entry) error {
	renderer := ctrl.NewRenderer(pipeline.RendererConfig{
		Backend: texture.NewMemoryBackend(),
		Sink:    sink,
		Logger:  logger,
	})
	if err := renderer.OnSurfaceCreated(); err != nil {
		return err
	}
	defer renderer.Release()
	renderer.OnSurfaceChanged(cfg.Capture.Width, cfg.Capture.Height)

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Display.TickHz))
	defer ticker.Stop()

	logger.WithField("tick_hz", cfg.Display.TickHz).Info("headless render loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			renderer.OnDrawFrame()
		}
	}
}
