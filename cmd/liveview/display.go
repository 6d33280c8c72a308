package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/internal/config"
	"github.com/e7canasta/orion-liveview/modules/metricsink"
	"github.com/e7canasta/orion-liveview/modules/pipeline"
	"github.com/e7canasta/orion-liveview/modules/texture/gltexture"
)

// GLFW and the GL context must stay on the main OS thread.
func init() {
	runtime.LockOSThread()
}

// runWindow owns the display surface: a GLFW window with a GL 4.1 core
// context. The loop is the render context. Space toggles the pipeline,
// Escape quits.
func runWindow(ctx context.Context, cfg *config.Config, ctrl *pipeline.Controller, sink metricsink.Sink, logger *logrus.Entry) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(cfg.Display.Width, cfg.Display.Height, cfg.Display.Title, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	defer window.Destroy()

	window.MakeContextCurrent()
	if cfg.Display.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	glVersion, err := gltexture.Init()
	if err != nil {
		return err
	}
	logger.WithField("gl_version", glVersion).Info("display surface created")

	renderer := ctrl.NewRenderer(pipeline.RendererConfig{
		Backend: gltexture.New(),
		Sink:    sink,
		Logger:  logger,
	})
	if err := renderer.OnSurfaceCreated(); err != nil {
		return err
	}
	defer renderer.Release()

	fbW, fbH := window.GetFramebufferSize()
	renderer.OnSurfaceChanged(fbW, fbH)
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		renderer.OnSurfaceChanged(width, height)
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeySpace:
			// Start blocks on the device; keep the render loop running.
			go togglePipeline(ctx, ctrl, logger)
		}
	})

	title := ""
	for !window.ShouldClose() {
		select {
		case <-ctx.Done():
			window.SetShouldClose(true)
			continue
		default:
		}

		renderer.OnDrawFrame()
		window.SwapBuffers()
		glfw.PollEvents()

		if t := windowTitle(cfg.Display.Title, ctrl.State(), renderer.Stats()); t != title {
			window.SetTitle(t)
			title = t
		}
	}
	return nil
}

func togglePipeline(ctx context.Context, ctrl *pipeline.Controller, logger *logrus.Entry) {
	if ctrl.State() == pipeline.StateStopped {
		if err := ctrl.Start(ctx); err != nil {
			logger.WithError(err).Warn("pipeline start failed")
		}
		return
	}
	if err := ctrl.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		logger.WithError(err).Warn("pipeline stop failed")
	}
}

func windowTitle(base string, state pipeline.State, st pipeline.DisplayStats) string {
	if state != pipeline.StateRunning {
		return fmt.Sprintf("%s [%s]", base, state)
	}
	if st.Width == 0 {
		return base
	}
	return fmt.Sprintf("%s %dx%d %.1f fps", base, st.Width, st.Height, st.FPS)
}
