package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/internal/config"
	"github.com/e7canasta/orion-liveview/modules/capture"
	"github.com/e7canasta/orion-liveview/modules/pipeline"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	source := flag.String("source", "", "Capture source: pattern or v4l2")
	device := flag.String("device", "", "Camera device, e.g. /dev/video0")
	width := flag.Int("width", 0, "Capture width")
	height := flag.Int("height", 0, "Capture height")
	headless := flag.Bool("headless", false, "Render into memory instead of a window")
	processor := flag.String("processor", "", "Processing: passthrough, grayscale, delay, canny, subprocess")
	flag.Parse()

	logger := initLogger(*debug)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to load configuration")
		}
		cfg = loaded
	}

	// Flags override the file, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Capture.Source = *source
		case "device":
			cfg.Capture.Device = *device
		case "width":
			cfg.Capture.Width = *width
		case "height":
			cfg.Capture.Height = *height
		case "headless":
			cfg.Display.Headless = *headless
		case "processor":
			cfg.Processing.Kind = *processor
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"version":    version,
		"instance":   cfg.InstanceID,
		"source":     cfg.Capture.Source,
		"resolution": fmt.Sprintf("%dx%d", cfg.Capture.Width, cfg.Capture.Height),
		"processing": cfg.Processing.Kind,
		"headless":   cfg.Display.Headless,
	}).Info("starting liveview")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		code := 1
		if errors.Is(err, capture.ErrPermissionDenied) {
			code = 77 // EX_NOPERM
		}
		logger.WithError(err).Error("liveview failed")
		stop()
		os.Exit(code)
	}

	logger.Info("liveview stopped gracefully")
}

// initLogger configures the standard logrus logger: JSON for collection,
// full-timestamp text when debugging at a terminal.
func initLogger(debug bool) *logrus.Entry {
	l := logrus.StandardLogger()
	l.SetOutput(os.Stdout)
	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l)
}

// run wires the pipeline, drives the display until ctx is done and tears
// everything down.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Entry) error {
	logger = logger.WithField("instance", cfg.InstanceID)

	dev, err := newDevice(cfg, logger)
	if err != nil {
		return err
	}

	proc, closeProc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProc()

	sinks, err := newSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	ctrl, err := pipeline.New(pipeline.Config{
		Device:          dev,
		Selector:        capture.Selector{Device: cfg.Capture.Device},
		Width:           cfg.Capture.Width,
		Height:          cfg.Capture.Height,
		Processor:       proc,
		LatencyLogEvery: cfg.Processing.LatencyLogEvery,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	stopHTTP := startHTTP(cfg, ctrl, sinks, logger)
	defer stopHTTP()

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer printFinalStats(ctrl, sinks)
	defer func() {
		if err := ctrl.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			logger.WithError(err).Warn("pipeline stop reported an error")
		}
	}()

	// Stopped before the pipeline so no remote start races the teardown.
	stopControl, err := startControl(ctx, cfg, ctrl, sinks, logger)
	if err != nil {
		return err
	}
	defer stopControl()

	if interval := cfg.StatsInterval(); interval > 0 {
		go reportStats(ctx, interval, ctrl, sinks)
	}

	if cfg.Display.Headless {
		return runHeadless(ctx, cfg, ctrl, sinks.fanout, logger)
	}
	return runWindow(ctx, cfg, ctrl, sinks.fanout, logger)
}
