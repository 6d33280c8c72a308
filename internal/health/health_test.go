package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveview/modules/framedispatch"
	"github.com/e7canasta/orion-liveview/modules/pipeline"
)

type fakeSource struct{ st pipeline.Stats }

func (f *fakeSource) Stats() pipeline.Stats { return f.st }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	rec := serve(t, New(&fakeSource{}, nil, nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}

func TestReadiness(t *testing.T) {
	src := &fakeSource{}
	s := New(src, nil, nil)

	rec := serve(t, s, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.st = pipeline.Stats{
		State:    pipeline.StateRunning,
		Runs:     1,
		Dispatch: framedispatch.Stats{Captured: 100, InboxDrops: 25},
		Display:  &pipeline.DisplayStats{FPS: 29.5, Width: 640, Height: 480},
	}
	rec = serve(t, s, "/readiness")
	require.Equal(t, http.StatusOK, rec.Code)

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, "running", got.State)
	assert.Equal(t, 29.5, got.FPS)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 0.25, got.DropRate)
	assert.Nil(t, got.MQTTConnected)
}

func TestCheck_DegradedWithoutMQTT(t *testing.T) {
	src := &fakeSource{st: pipeline.Stats{State: pipeline.StateRunning}}
	s := New(src, func() bool { return false }, nil)

	got := s.Check()
	assert.Equal(t, "degraded", got.Status)
	require.NotNil(t, got.MQTTConnected)
	assert.False(t, *got.MQTTConnected)

	rec := serve(t, s, "/readiness")
	assert.Equal(t, http.StatusOK, rec.Code, "degraded is still ready")
}

func TestStatsHandler(t *testing.T) {
	src := &fakeSource{st: pipeline.Stats{State: pipeline.StateStopped, Runs: 3}}
	rec := serve(t, New(src, nil, nil), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(3), got["Runs"])
	assert.Equal(t, "stopped", got["State"])
}
