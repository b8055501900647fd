package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one broadcast notification over GET /monto/events: a filesystem
// path whose cache entries were invalidated.
type Event struct {
	Type      string    `json:"type"` // "invalidated"
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub broadcasts Events to every connected websocket client. Adapted
// from the teacher's WebSocketHub (alert-silence events -> cache-change
// events).
type EventHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewEventHub(log *slog.Logger) *EventHub {
	if log == nil {
		log = slog.Default()
	}
	return &EventHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        log,
	}
}

// Run drives the hub's register/unregister/broadcast loop until ctx is
// canceled.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				_ = c.Close()
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if err := c.WriteJSON(ev); err != nil {
					h.log.Debug("dropping websocket client after write error", "error", err)
					go func(c *websocket.Conn) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues ev for broadcast to every connected client. Never
// blocks the caller (the cache/watcher executor) beyond the channel
// buffer; a full buffer drops the event, since events are a best-effort
// diagnostics stream, not an authoritative protocol surface.
func (h *EventHub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("event hub buffer full, dropping event", "path", ev.Path)
	}
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
}

// ServeWS handles GET /monto/events, upgrading to a websocket connection
// and registering it with the hub.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
