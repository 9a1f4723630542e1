package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gnus-inc/audioplayers/internal/player"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans playback events out to websocket subscribers. It implements
// player.Sink; a subscriber that cannot keep up has events dropped rather
// than stalling the publisher.
type EventHub struct {
	mu      sync.RWMutex
	conns   map[*eventConn]struct{}
	closed  bool
	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
}

type eventConn struct {
	ws *websocket.Conn
	// send is the connection's buffered outbound queue. The write pump is
	// the only goroutine writing to the socket.
	send chan []byte
	// playerID filters the stream to one session when set.
	playerID string
	once     sync.Once
}

func (c *eventConn) close() {
	c.once.Do(func() { close(c.send) })
}

// NewEventHub creates a hub whose per-connection queues hold buffer events.
func NewEventHub(buffer int, logger *slog.Logger) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		conns:  make(map[*eventConn]struct{}),
		buffer: buffer,
		logger: logger.With(slog.String("component", "event-hub")),
	}
}

// Publish delivers an event to every matching subscriber.
func (h *EventHub) Publish(ev player.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.playerID != "" && c.playerID != ev.PlayerID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
			h.logger.Debug("subscriber queue full, dropping event",
				slog.String("player_id", ev.PlayerID),
				slog.String("type", string(ev.Type)))
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the current connection count.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects all subscribers and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		c.close()
		delete(h.conns, c)
	}
}

// ServeHTTP upgrades the request to a websocket event stream. An optional
// player_id query parameter restricts the stream to one session.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &eventConn{
		ws:       ws,
		send:     make(chan []byte, h.buffer),
		playerID: r.URL.Query().Get("player_id"),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) detach(c *eventConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

// writePump is the sole writer on the socket.
func (h *EventHub) writePump(c *eventConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.detach(c)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(c)
				return
			}
		}
	}
}

// readPump discards client frames; its job is close and pong handling.
func (h *EventHub) readPump(c *eventConn) {
	defer h.detach(c)
	c.ws.SetReadLimit(512)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
