package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	resp  Response
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) publish(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, published{topic: topic, resp: resp})
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

func newTestHandler(cb Callbacks) (*Handler, *recorder) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	h := NewHandler(nil, Config{Topic: "care/liveview/bed-2/control", Logger: logrus.NewEntry(l)}, cb)
	rec := &recorder{}
	h.publish = rec.publish
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h, rec
}

func TestHandleCommand(t *testing.T) {
	var started, stopped int
	stopErr := errors.New("pipeline: not running")

	h, _ := newTestHandler(Callbacks{
		OnGetStatus: func() map[string]interface{} { return map[string]interface{}{"state": "running"} },
		OnStart:     func() error { started++; return nil },
		OnStop:      func() error { stopped++; return stopErr },
	})

	resp := h.handleCommand(Command{Command: "get_status"})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "running", resp.Data["state"])

	resp = h.handleCommand(Command{Command: "start"})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 1, started)

	resp = h.handleCommand(Command{Command: "stop"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, stopErr.Error(), resp.Error)

	resp = h.handleCommand(Command{Command: "restart"})
	assert.Equal(t, "success", resp.Status, "restart ignores stop errors")
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, stopped)

	resp = h.handleCommand(Command{Command: "self_destruct"})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestHandleCommand_NotImplemented(t *testing.T) {
	h, _ := newTestHandler(Callbacks{})
	for _, name := range []string{"get_status", "start", "stop"} {
		resp := h.handleCommand(Command{Command: name})
		assert.Equal(t, "error", resp.Status, name)
		assert.Equal(t, name+" not implemented", resp.Error)
	}
}

func TestEnqueue_ProcessesAndResponds(t *testing.T) {
	done := make(chan struct{}, 1)
	h, rec := newTestHandler(Callbacks{
		OnStart: func() error { done <- struct{}{}; return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.run(ctx)

	h.enqueue([]byte(`{"command":"start"}`))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("start callback not invoked")
	}
	h.Stop()

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "care/liveview/bed-2/control/response", msgs[0].topic)
	assert.Equal(t, "start", msgs[0].resp.CommandAck)
	assert.Equal(t, "success", msgs[0].resp.Status)
	assert.Equal(t, "2024-05-01T12:00:00Z", msgs[0].resp.Timestamp)
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	h, rec := newTestHandler(Callbacks{})
	h.enqueue([]byte(`{not json`))

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "unknown", msgs[0].resp.CommandAck)
	assert.Equal(t, "invalid JSON", msgs[0].resp.Error)
}

func TestEnqueue_QueueFull(t *testing.T) {
	h, rec := newTestHandler(Callbacks{})
	// No processor running: the queue fills up.
	for i := 0; i < cap(h.commands)+1; i++ {
		h.enqueue([]byte(`{"command":"get_status"}`))
	}

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "busy", msgs[0].resp.Error)
}

func TestEnqueue_AfterStopAnswersStopping(t *testing.T) {
	h, rec := newTestHandler(Callbacks{
		OnGetStatus: func() map[string]interface{} { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.run(ctx)
	h.Stop()

	require.NotPanics(t, func() {
		h.enqueue([]byte(`{"command":"get_status"}`))
	})

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "get_status", msgs[0].resp.CommandAck)
	assert.Equal(t, "error", msgs[0].resp.Status)
	assert.Equal(t, "stopping", msgs[0].resp.Error)
}
