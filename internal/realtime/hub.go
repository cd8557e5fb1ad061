// Package realtime pushes message events to connected websocket clients.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"unibox/internal/domain"
	"unibox/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Event is one frame pushed to clients.
type Event struct {
	Type string         `json:"type"`
	Data domain.Message `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// Hub fans message events out to every connected client. It implements
// the notifier used by the dispatch paths; broadcasts never block them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway binds on localhost by default and carries no
			// browser session state, so origin checks stay permissive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// MessageCreated broadcasts a newly persisted message.
func (h *Hub) MessageCreated(msg domain.Message) {
	h.broadcast(Event{Type: "message.created", Data: msg})
}

// MessageUpdated broadcasts a status change on an existing message.
func (h *Hub) MessageUpdated(msg domain.Message) {
	h.broadcast(Event{Type: "message.updated", Data: msg})
}

func (h *Hub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event failed", "type", ev.Type, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop the frame rather than stall dispatch.
			h.logger.Debug("client send buffer full, frame dropped", "client", c.id)
		}
	}
}

// ServeWS upgrades the request and registers the client. Clients are
// push-only; inbound frames beyond control messages are discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(int64(count))
	h.logger.Info("websocket client connected", "client", c.id, "total", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c, websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *client, code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})

	h.mu.Lock()
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(int64(count))
	h.logger.Info("websocket client disconnected", "client", c.id, "total", count)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c, websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c, websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// readLoop drains the connection so close and pong frames are handled.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c, websocket.CloseNormalClosure, "client closed")
			return
		}
	}
}
