package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport liveness constants, carried verbatim from the teacher's
// internal/api/hub.go.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one subscribed websocket connection, bound to the match and
// user it belongs to so the Hub can target fan-out instead of only
// broadcasting globally (the teacher's Hub has exactly one audience; a
// match here has two).
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	matchID  string
	userID   string
	lastPong time.Time
}

// NewClient wraps a live websocket connection as a Hub member. Call
// hub.Register(client) once it's ready to receive fan-out.
func NewClient(hub *Hub, conn *websocket.Conn, matchID, userID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 32),
		matchID:  matchID,
		userID:   userID,
		lastPong: time.Now(),
	}
}

// Hub fans local events out to every connected client subscribed to a
// given match, and supports targeting a single user within a match (for
// e.g. a trade rejection that only the submitting player should see).
// Grounded in the teacher's `api.Hub` (register/unregister maps, buffered
// per-client send channel, stale-connection pruning loop), generalized
// from a single global audience to per-match subscription groups.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	stopCh  chan struct{}
}

func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		stopCh:  make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

func (h *Hub) Stop() {
	close(h.stopCh)
}

func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.pruneStaleClients()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) pruneStaleClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	staleThreshold := time.Now().Add(-pongWait - 10*time.Second)
	for client := range h.clients {
		if client.lastPong.Before(staleThreshold) {
			delete(h.clients, client)
			close(client.send)
			client.conn.Close()
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// BroadcastToMatch sends data to every client subscribed to matchID.
func (h *Hub) BroadcastToMatch(matchID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matchID != matchID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full; drop rather than block the hub for
			// every other subscriber.
		}
	}
}

// SendToUser sends data only to matchID's client for userID, if connected.
func (h *Hub) SendToUser(matchID, userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matchID != matchID || c.userID != userID {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		c.conn.Close()
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
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump(onMessage func(c *Client, data []byte)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastPong = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(c, data)
		}
	}
}
