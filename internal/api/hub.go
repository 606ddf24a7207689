package api

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/status"
	"github.com/gorilla/websocket"
)

const (
	MessageSnapshot = "snapshot"
	MessageStatus   = "status"

	sendBuffer      = 64
	broadcastBuffer = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

// Message is the envelope of everything sent over the websocket.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Source publishes snapshots and status events.
type Source interface {
	OnSnapshot(fn func(*hardware.Snapshot)) func()
	OnStatusChanged(fn func(status.Event)) func()
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans messages out to connected websocket clients. Clients that
// cannot keep up lose messages instead of slowing down the sender.
type Hub struct {
	logger logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		logger:     log,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan Message, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Int("total", total).Msg("Websocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Int("total", total).Msg("Websocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client, drop this message
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug().Str("type", msg.Type).Msg("Broadcast queue full, dropping message")
	}
}

// Follow forwards every snapshot and status event of src to the
// clients. The returned function stops forwarding.
func (h *Hub) Follow(src Source) func() {
	offSnapshot := src.OnSnapshot(func(snap *hardware.Snapshot) {
		h.Broadcast(Message{Type: MessageSnapshot, Timestamp: snap.CapturedAt, Data: snap})
	})
	offStatus := src.OnStatusChanged(func(ev status.Event) {
		h.Broadcast(Message{Type: MessageStatus, Timestamp: ev.At, Data: ev})
	})

	return func() {
		offSnapshot()
		offStatus()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serve registers conn and runs its pumps. It returns once the client
// is registered.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the stream is one-way, incoming messages only keep the
	// connection alive
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("Websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
