package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
)

const (
	// writeWait bounds a single outbound write.
	writeWait = 10 * time.Second
	// pongWait is the transport-level idle detection window; a connection
	// that misses it is torn down.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound control-plane frames.
	maxMessageSize = 64 * 1024
	// sendQueueSize is the per-client outbound queue; a full queue means the
	// message is dropped rather than the hub blocking.
	sendQueueSize = 64
)

// client is one live control-plane connection.
type client struct {
	id   string
	addr string
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of live connections. Delivery never blocks: a slow
// client's overflowing queue drops messages instead of stalling the caller.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*client

	onMessage    func(connID string, data []byte)
	onDisconnect func(connID, addr string)
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		clients: make(map[string]*client),
	}
}

// SetHandlers wires the inbound message handler and the disconnect hook.
// Must be called before Register.
func (h *Hub) SetHandlers(onMessage func(connID string, data []byte), onDisconnect func(connID, addr string)) {
	h.onMessage = onMessage
	h.onDisconnect = onDisconnect
}

// newConnID generates an opaque connection identifier.
func newConnID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a time-derived ID; uniqueness here is best-effort.
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000000")))[:16]
	}
	return hex.EncodeToString(b[:])
}

// Register adds an upgraded connection to the hub, starts its pumps and
// returns its connection ID.
func (h *Hub) Register(conn *websocket.Conn, addr string) string {
	c := &client{
		id:   newConnID(),
		addr: addr,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(float64(count))
	}

	h.logger.Info("Connection established",
		slog.String("conn_id", c.id),
		slog.String("remote_addr", addr),
		slog.Int("connections", count),
	)

	go h.writePump(c)
	go h.readPump(c)

	return c.id
}

// Send delivers an encoded message to one connection. It returns false when
// the connection is gone; a full send queue counts as delivered-and-dropped,
// not as gone.
func (h *Hub) Send(connID string, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}

	select {
	case c.send <- data:
	default:
		if h.metrics != nil {
			h.metrics.SendsDropped.Inc()
		}
		h.logger.Warn("Send queue full, dropping message",
			slog.String("conn_id", connID),
		)
	}
	return true
}

// Broadcast delivers an encoded message to every connection except the
// named one. Pass an empty exceptID to reach everyone.
func (h *Hub) Broadcast(exceptID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == exceptID {
			continue
		}
		select {
		case c.send <- data:
		default:
			if h.metrics != nil {
				h.metrics.SendsDropped.Inc()
			}
		}
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// disconnect removes a client exactly once and runs the disconnect hook.
func (h *Hub) disconnect(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	if !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(float64(count))
	}

	h.logger.Info("Connection closed",
		slog.String("conn_id", c.id),
		slog.String("remote_addr", c.addr),
		slog.Int("connections", count),
	)

	if h.onDisconnect != nil {
		h.onDisconnect(c.id, c.addr)
	}
}

// readPump reads inbound frames and hands them to the dispatcher. It owns
// the connection teardown.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Read error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if h.onMessage != nil {
			h.onMessage(c.id, data)
		}
	}
}

// writePump writes queued messages and liveness pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
