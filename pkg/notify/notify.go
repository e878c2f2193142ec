// Package notify fans events out to every open application instance over
// websockets. The proxy uses it to push sync completion notices, so a tab
// that queued an order while offline learns it went through even if a
// different tab triggered the replay.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config assembles a Hub.
type Config struct {
	// WriteTimeout bounds each client write. Defaults to 10s.
	WriteTimeout time.Duration

	// PingInterval is how often idle clients are pinged. A client that
	// misses two intervals is dropped. Defaults to 30s.
	PingInterval time.Duration

	// Logger receives connect, disconnect and drop events.
	Logger zerolog.Logger
}

// Hub upgrades incoming connections and broadcasts JSON messages to all of
// them. Dead clients are dropped on the first failed write or missed ping,
// never retried; a notification is best-effort per client.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// NewHub builds a Hub. Run must be started for ping maintenance.
func NewHub(cfg Config) *Hub {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The proxy fronts the app on the same host, so any page
			// origin is fine here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       cfg.Logger,
		clients:      make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection and registers the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	clientsConnected.Set(float64(count))

	h.logger.Debug().Str("client", c.id).Int("clients", count).Msg("websocket client connected")
	go h.readPump(c)
}

// readPump consumes incoming frames so close and pong control frames get
// processed. Clients have nothing to say to the hub; data frames are
// discarded.
func (h *Hub) readPump(c *client) {
	defer h.remove(c, "closed")

	wait := 2 * h.pingInterval
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait))
	}
}

// Run pings idle clients until ctx is cancelled, then closes everything.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if err := h.write(c, websocket.PingMessage, nil); err != nil {
					h.remove(c, "ping failed")
				}
			}
		}
	}
}

// Broadcast JSON-encodes v once and sends it to every connected client.
// Clients whose write fails are dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("broadcast payload not encodable")
		return
	}

	clients := h.snapshot()
	for _, c := range clients {
		if err := h.write(c, websocket.TextMessage, data); err != nil {
			h.remove(c, "write failed")
		}
	}
	if len(clients) > 0 {
		broadcastsTotal.Inc()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot copies the client list so sends happen outside the lock.
func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// write serializes writes per connection; gorilla/websocket does not allow
// concurrent writers.
func (h *Hub) write(c *client, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (h *Hub) remove(c *client, reason string) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.mu.Unlock()
		clientsConnected.Set(float64(count))

		c.conn.Close()
		droppedTotal.Inc()
		h.logger.Debug().Str("client", c.id).Str("reason", reason).Int("clients", count).Msg("websocket client removed")
	})
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		h.remove(c, "shutdown")
	}
}
