// Package feed streams hub events to browser dashboards over WebSocket.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	clientSend = 32
)

var _ classradio.EventSink = &Handler{}

// Handler upgrades requests to WebSocket connections and writes every event
// it receives to all of them as a JSON text message. Clients that fall behind
// are disconnected.
type Handler struct {
	Upgrader websocket.Upgrader
	Logger   log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.OrDefault(h.Logger)
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	if h.clients == nil {
		h.clients = make(map[*client]struct{})
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debug("Feed client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop consumes control frames until the peer goes away.
func (h *Handler) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.OrDefault(h.Logger).Debug("Feed write failed", "error", err)
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Handler) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// OnEvent broadcasts event to the connected clients without blocking.
func (h *Handler) OnEvent(event classradio.HostEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.OrDefault(h.Logger).Error("Cannot encode event", "type", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		log.OrDefault(h.Logger).Warn("Dropping slow feed client")
		h.remove(c)
	}
}

// Close disconnects every client.
func (h *Handler) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
