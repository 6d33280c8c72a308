package metricsink

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogSink writes events to a logrus logger at info level.
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink creates a LogSink. A nil logger uses the standard logger.
func NewLogSink(logger *logrus.Entry) *LogSink {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSink{logger: logger.WithField("component", "metrics")}
}

// FPSUpdated implements Sink.
func (s *LogSink) FPSUpdated(fps float64) {
	s.logger.WithField("fps", fmt.Sprintf("%.1f", fps)).Info("metrics: fps updated")
}

// ResolutionKnown implements Sink.
func (s *LogSink) ResolutionKnown(width, height int) {
	s.logger.WithField("resolution", fmt.Sprintf("%dx%d", width, height)).Info("metrics: resolution known")
}
