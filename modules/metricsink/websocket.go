package metricsink

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 16
	writeTimeout = 2 * time.Second
	pingInterval = 30 * time.Second
)

// ViewerMessage is what web viewers receive. FPS is rounded to an integer
// for display.
type ViewerMessage struct {
	Type   Kind `json:"type"`
	FPS    int  `json:"fps,omitempty"`
	Width  int  `json:"width,omitempty"`
	Height int  `json:"height,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub broadcasts events to connected web viewers. New viewers get
// the latest fps and resolution immediately. A viewer that cannot keep up
// loses messages rather than slowing the hub.
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[string]*wsClient
	lastFPS []byte
	lastRes []byte
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

var (
	_ Sink         = (*WebSocketHub)(nil)
	_ http.Handler = (*WebSocketHub)(nil)
)

// NewWebSocketHub creates a hub. allowedOrigin empty accepts any origin.
func NewWebSocketHub(allowedOrigin string, logger *logrus.Entry) *WebSocketHub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &WebSocketHub{
		logger:  logger.WithField("component", "metrics"),
		clients: make(map[string]*wsClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowedOrigin == "" || r.Header.Get("Origin") == allowedOrigin
		},
	}
	return h
}

// ServeHTTP upgrades the request and registers the viewer.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("metrics: websocket upgrade failed")
		return
	}

	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, msg := range [][]byte{h.lastRes, h.lastFPS} {
		if msg != nil {
			c.send <- msg
		}
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"viewer": c.id, "remote": r.RemoteAddr}).Info("metrics: viewer connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop owns all writes to the connection.
func (h *WebSocketHub) writeLoop(c *wsClient) {
	defer h.wg.Done()
	defer c.conn.Close()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards viewer input and detects disconnects.
func (h *WebSocketHub) readLoop(c *wsClient) {
	defer h.wg.Done()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *WebSocketHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.logger.WithField("viewer", c.id).Info("metrics: viewer disconnected")
}

// FPSUpdated implements Sink.
func (h *WebSocketHub) FPSUpdated(fps float64) {
	h.broadcast(ViewerMessage{Type: KindFPS, FPS: int(math.Round(fps))}, &h.lastFPS)
}

// ResolutionKnown implements Sink.
func (h *WebSocketHub) ResolutionKnown(width, height int) {
	h.broadcast(ViewerMessage{Type: KindResolution, Width: width, Height: height}, &h.lastRes)
}

func (h *WebSocketHub) broadcast(m ViewerMessage, last *[]byte) {
	msg, err := json.Marshal(m)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	*last = msg

	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Viewers returns the number of connected viewers.
func (h *WebSocketHub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns messages dropped for slow viewers.
func (h *WebSocketHub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every viewer and waits for their goroutines.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
