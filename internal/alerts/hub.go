// Package alerts fans scored transactions out to dashboard clients over
// WebSocket. Clients are read-mostly; the hub owns all connection state.
package alerts

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fraudnet/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboard origins are not known ahead of time; alerts are read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 512              // Clients only ever send pongs and close frames
	sendBuffer = 256              // Per-client outbound channel buffer
)

// ClientMetrics is the observability hook the hub reports into.
type ClientMetrics interface {
	ClientConnected()
	ClientDisconnected()
	RecordAlertDropped()
}

// Hub tracks connected alert clients and broadcasts scored records to
// all of them. A client that cannot keep up has alerts dropped rather
// than stalling the broadcast path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	metrics ClientMetrics
	logger  *slog.Logger
}

// client is one WebSocket connection. All writes go through the send
// channel so writePump is the only goroutine touching the connection
// for output.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewHub(metrics ClientMetrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleAlerts upgrades the request and registers the connection for
// alert delivery.
func (h *Hub) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ClientConnected()
	}
	h.logger.Info("alert client connected", "remote", r.RemoteAddr, "clients", h.ClientCount())

	go c.writePump()
	go c.readPump()
}

// Broadcast sends a scored record to every connected client. Slow
// clients are skipped and counted, never waited on.
func (h *Hub) Broadcast(resp *models.RiskResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Warn("alert marshal failed", "tx_id", resp.TxID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			if h.metrics != nil {
				h.metrics.RecordAlertDropped()
			}
			h.logger.Warn("alert client send buffer full, dropping alert", "tx_id", resp.TxID)
		}
	}
}

// Close terminates every client connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// close shuts the connection down exactly once and deregisters it.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		c.conn.Close()
		if c.hub.metrics != nil {
			c.hub.metrics.ClientDisconnected()
		}
		c.hub.logger.Info("alert client disconnected", "clients", c.hub.ClientCount())
	})
}

// writePump serializes all writes to the connection, including pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued alerts in the same wakeup.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound frames so pongs and close frames are
// processed. Alert clients are not expected to send data.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("alert client read error", "error", err)
			}
			return
		}
	}
}
