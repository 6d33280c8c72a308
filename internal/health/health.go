package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/pipeline"
)

// StatsSource is the pipeline view the handlers report on.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Status represents the health state of the liveview service
type Status struct {
	Status        string  `json:"status"` // "healthy", "degraded", "unhealthy"
	State         string  `json:"state"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Runs          uint64  `json:"runs"`
	FPS           float64 `json:"fps"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	DropRate      float64 `json:"drop_rate"`
	MQTTConnected *bool   `json:"mqtt_connected,omitempty"`
}

// Server exposes liveness, readiness and stats endpoints.
type Server struct {
	source  StatsSource
	mqtt    func() bool
	started time.Time
	logger  *logrus.Entry
}

// New creates the handlers. mqttConnected may be nil when MQTT is disabled.
func New(source StatsSource, mqttConnected func() bool, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		source:  source,
		mqtt:    mqttConnected,
		started: time.Now(),
		logger:  logger.WithField("component", "health"),
	}
}

// Register mounts /health, /readiness and /stats on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
}

// Check returns the current health status of the service
func (s *Server) Check() Status {
	st := s.source.Stats()

	status := Status{
		Status:        "healthy",
		State:         st.State.String(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runs:          st.Runs,
	}
	if d := st.Display; d != nil {
		status.FPS = d.FPS
		status.Width = d.Width
		status.Height = d.Height
	}
	if total := st.Dispatch.Captured; total > 0 {
		status.DropRate = float64(st.Dispatch.InboxDrops) / float64(total)
	}
	if s.mqtt != nil {
		connected := s.mqtt()
		status.MQTTConnected = &connected
	}

	switch {
	case st.State != pipeline.StateRunning:
		status.Status = "unhealthy"
	case status.MQTTConnected != nil && !*status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health: 200 while the process is alive.
func (s *Server) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 200 while the pipeline runs, 503
// otherwise.
func (s *Server) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	health := s.Check()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

// StatsHandler handles /stats: the full pipeline snapshot.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("health: response write failed")
	}
}
