package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/orion-liveview/modules/pipeline"
)

func TestDropRate(t *testing.T) {
	assert.Equal(t, 0.0, dropRate(0, 0))
	assert.Equal(t, 25.0, dropRate(100, 25))
}

func TestWindowTitle(t *testing.T) {
	assert.Equal(t, "Live [stopped]", windowTitle("Live", pipeline.StateStopped, pipeline.DisplayStats{}))
	assert.Equal(t, "Live", windowTitle("Live", pipeline.StateRunning, pipeline.DisplayStats{}))
	assert.Equal(t, "Live 640x480 29.7 fps",
		windowTitle("Live", pipeline.StateRunning, pipeline.DisplayStats{Width: 640, Height: 480, FPS: 29.71}))
}
