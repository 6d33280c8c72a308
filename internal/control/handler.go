package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks contains the operations commands map to
type Callbacks struct {
	OnGetStatus func() map[string]interface{}
	OnStart     func() error
	OnStop      func() error
}

// Config configures the handler topics
type Config struct {
	// Topic receives commands; responses go to Topic + "/response".
	Topic string
	QoS   byte

	Logger *logrus.Entry
}

// Handler handles control plane commands received over MQTT. Commands run
// one at a time on a single goroutine, so a start that waits on the camera
// delays the next command instead of racing it.
type Handler struct {
	client        mqtt.Client
	topic         string
	responseTopic string
	qos           byte
	callbacks     Callbacks
	logger        *logrus.Entry

	commands chan Command
	done     chan struct{}
	publish  func(topic string, payload []byte) error
	now      func() time.Time

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHandler creates a new control plane handler
func NewHandler(client mqtt.Client, cfg Config, callbacks Callbacks) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Handler{
		client:        client,
		topic:         cfg.Topic,
		responseTopic: cfg.Topic + "/response",
		qos:           cfg.QoS,
		callbacks:     callbacks,
		logger:        logger.WithField("component", "control"),
		commands:      make(chan Command, 10),
		done:          make(chan struct{}),
		now:           time.Now,
	}
	h.publish = h.mqttPublish
	return h
}

// Start subscribes to the command topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	h.logger.WithFields(logrus.Fields{"topic": h.topic, "qos": h.qos}).Info("control: subscribing")

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	h.run(ctx)
	return nil
}

func (h *Handler) run(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processCommands(ctx)
	}()
}

// Stop unsubscribes and waits for the command in flight, if any. Commands
// delivered after Stop are answered with a "stopping" error.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.topic)
			if !token.WaitTimeout(2 * time.Second) {
				h.logger.Warn("control: unsubscribe timeout")
			}
		}
		h.wg.Wait()
		h.logger.Info("control: handler stopped")
	})
}

// messageHandler is called by the MQTT client for each command message
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logger.WithError(err).Warn("control: failed to parse command")
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	h.logger.WithField("command", cmd.Command).Info("control: command received")

	select {
	case <-h.done:
		h.sendResponse(Response{CommandAck: cmd.Command, Status: "error", Error: "stopping"})
		return
	default:
	}

	select {
	case h.commands <- cmd:
	default:
		h.logger.WithField("command", cmd.Command).Warn("control: command queue full, dropping command")
		h.sendResponse(Response{CommandAck: cmd.Command, Status: "error", Error: "busy"})
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	run := func(fn func() error, name string, data map[string]interface{}) {
		if fn == nil {
			resp.Status = "error"
			resp.Error = name + " not implemented"
			return
		}
		if err := fn(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			return
		}
		resp.Status = "success"
		resp.Data = data
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "start":
		run(h.callbacks.OnStart, "start", map[string]interface{}{"running": true})

	case "stop":
		run(h.callbacks.OnStop, "stop", map[string]interface{}{"running": false})

	case "restart":
		if h.callbacks.OnStop != nil {
			// Stopping a stopped pipeline is fine here.
			_ = h.callbacks.OnStop()
		}
		run(h.callbacks.OnStart, "restart", map[string]interface{}{"running": true})

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

// sendResponse publishes a command response
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.WithError(err).Error("control: failed to marshal response")
		return
	}

	if err := h.publish(h.responseTopic, payload); err != nil {
		h.logger.WithFields(logrus.Fields{
			"command": resp.CommandAck,
			"error":   err,
		}).Warn("control: failed to publish response")
	}
}

func (h *Handler) mqttPublish(topic string, payload []byte) error {
	if h.client == nil || !h.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := h.client.Publish(topic, h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}
