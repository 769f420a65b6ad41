package api

import (
	"sync"

	"github.com/gorilla/websocket"
)

const sendBuffer = 64

type conn struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// close shuts the send channel, ending the write pump, and closes the
// socket. Safe to call more than once.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.send)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// Hub tracks one live websocket connection per user. A reconnect replaces
// and closes the previous connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.conns[c.userID]; old != nil && old != c {
		old.close()
	}
	h.conns[c.userID] = c
}

// removeIfSame drops and closes the connection only if it is still the
// current one, so a finished read loop cannot evict its own replacement.
func (h *Hub) removeIfSame(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.conns[c.userID]; ok && cur == c {
		delete(h.conns, c.userID)
		c.close()
	}
}

// Send queues a message for a connected user. Messages to absent users or
// over a full buffer are dropped; the pubsub channel is the durable path.
// The read lock is held across the send: closing a conn happens under the
// write lock, so the channel cannot close mid-send.
func (h *Hub) Send(userID string, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c := h.conns[userID]
	if c == nil {
		return false
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}
