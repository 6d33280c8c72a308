package metricsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("metricsink: mqtt not connected")

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	// Broker is host:port; tcp:// is prepended when no scheme is given.
	Broker   string
	ClientID string

	// TopicPrefix: events go to <prefix>/fps and <prefix>/resolution.
	TopicPrefix string
	QoS         byte

	// Retain keeps the last value on the broker for late subscribers.
	Retain bool

	Logger *logrus.Entry
}

// MQTTStats counts publishes.
type MQTTStats struct {
	Published uint64
	Errors    uint64
	Connected bool
}

// MQTTSink publishes events as JSON to an MQTT broker. Publishes wait for the
// broker acknowledgement, so run it behind a Fanout.
type MQTTSink struct {
	cfg    MQTTConfig
	logger *logrus.Entry
	client mqtt.Client
	now    func() time.Time

	mu        sync.RWMutex
	connected bool

	published atomic.Uint64
	errors    atomic.Uint64
}

var _ Sink = (*MQTTSink)(nil)

// NewMQTTSink validates cfg. Call Connect before use.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("metricsink: mqtt broker is required")
	}
	if cfg.TopicPrefix == "" {
		return nil, errors.New("metricsink: mqtt topic prefix is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("metricsink: invalid mqtt qos %d", cfg.QoS)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MQTTSink{
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "metrics", "broker": cfg.Broker}),
		now:    time.Now,
	}, nil
}

// Connect establishes the broker connection. Reconnection after a loss is
// automatic.
func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		s.logger.WithField("client_id", s.cfg.ClientID).Info("metrics: mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.WithError(err).Warn("metrics: mqtt connection lost, will auto-reconnect")
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()

	timeout := mqttConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("metricsink: mqtt connection timeout (%s)", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("metricsink: mqtt connection failed: %w", err)
	}
	s.setConnected(true)
	return nil
}

// FPSUpdated implements Sink.
func (s *MQTTSink) FPSUpdated(fps float64) {
	s.publishEvent(s.cfg.TopicPrefix+"/fps", FPSEvent(fps, s.now()))
}

// ResolutionKnown implements Sink.
func (s *MQTTSink) ResolutionKnown(width, height int) {
	s.publishEvent(s.cfg.TopicPrefix+"/resolution", ResolutionEvent(width, height, s.now()))
}

func (s *MQTTSink) publishEvent(topic string, e Event) {
	if err := s.Publish(topic, e); err != nil {
		s.logger.WithFields(logrus.Fields{"topic": topic, "error": err}).Debug("metrics: mqtt publish failed")
	}
}

// Publish marshals e and publishes it to topic, waiting for the ack.
func (s *MQTTSink) Publish(topic string, e Event) error {
	if !s.isConnected() {
		s.errors.Add(1)
		return ErrNotConnected
	}

	payload, err := json.Marshal(e)
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("metricsink: marshal event: %w", err)
	}

	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		s.errors.Add(1)
		return errors.New("metricsink: publish timeout")
	}
	if err := token.Error(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("metricsink: publish failed: %w", err)
	}

	s.published.Add(1)
	return nil
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (s *MQTTSink) Close() {
	if s.client == nil {
		return
	}
	s.setConnected(false)
	s.client.Disconnect(250)
}

// Client exposes the connection for other users of the same broker session.
// Nil before Connect.
func (s *MQTTSink) Client() mqtt.Client {
	return s.client
}

// Connected reports whether the broker connection is up.
func (s *MQTTSink) Connected() bool {
	return s.isConnected()
}

// Stats returns a snapshot.
func (s *MQTTSink) Stats() MQTTStats {
	return MQTTStats{
		Published: s.published.Load(),
		Errors:    s.errors.Load(),
		Connected: s.isConnected(),
	}
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
