package scoreserver

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTooManyConnections is returned by add when the client limit is reached.
var ErrTooManyConnections = errors.New("too many connections")

const sendBuffer = 64

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	mu        sync.Mutex
	refereeID int // last referee number seen on this link
}

func newClient(conn *websocket.Conn, log *zap.Logger) *client {
	id := uuid.NewString()
	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  log.With(zap.String("client", id)),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug("write failed", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) setReferee(id int) {
	c.mu.Lock()
	c.refereeID = id
	c.mu.Unlock()
}

func (c *client) referee() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refereeID
}

// hub tracks connected referee terminals and fans messages out to them.
type hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	maxClients int
	log        *zap.Logger
}

func newHub(maxClients int, log *zap.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		maxClients: maxClients,
		log:        log,
	}
}

func (h *hub) add(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, h.log)
	h.clients[c] = true
	return c, nil
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// sendTo queues v for one client, disconnecting it if it cannot keep up.
func (h *hub) sendTo(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("marshal error", zap.Error(err))
		return
	}
	h.queue(c, data)
}

// broadcast queues v for every client except skip.
func (h *hub) broadcast(v any, skip *client) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("marshal error", zap.Error(err))
		return
	}
	for _, c := range h.snapshot() {
		if c != skip {
			h.queue(c, data)
		}
	}
}

func (h *hub) queue(c *client, data []byte) {
	h.mu.RLock()
	_, ok := h.clients[c]
	if ok {
		select {
		case c.send <- data:
			h.mu.RUnlock()
			return
		default:
		}
	}
	h.mu.RUnlock()
	if ok {
		c.log.Warn("client too slow, disconnecting")
		h.remove(c)
	}
}

// drop severs every link without a close frame.
func (h *hub) drop() int {
	clients := h.snapshot()
	for _, c := range clients {
		c.conn.UnderlyingConn().Close()
	}
	return len(clients)
}

// closeAll ends every link with a normal closure.
func (h *hub) closeAll() {
	for _, c := range h.snapshot() {
		h.remove(c)
	}
}
