package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type runMessage struct {
	runID   string
	payload []byte
}

// Hub fans exam-run events out to the sockets watching each run.
type Hub struct {
	runs       map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan runMessage
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	RunID          string
	MessageHandler func(*Client, Message)

	sendMu sync.Mutex
	closed bool
}

// Message is the envelope for both directions of the run socket.
type Message struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		runs:       make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan runMessage, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, clients := range h.runs {
				for c := range clients {
					c.closeSend()
				}
			}
			h.runs = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.runs[client.RunID] == nil {
				h.runs[client.RunID] = make(map[*Client]bool)
			}
			h.runs[client.RunID][client] = true
			h.mu.Unlock()
			slog.Debug("Client registered", "user_id", client.UserID, "run_id", client.RunID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Debug("Client unregistered", "user_id", client.UserID, "run_id", client.RunID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.runs[msg.runID] {
				if !client.trySend(msg.payload) {
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *Client) {
	clients, ok := h.runs[c.RunID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	c.closeSend()
	if len(clients) == 0 {
		delete(h.runs, c.RunID)
	}
}

func NewClient(h *Hub, conn *websocket.Conn, userID, runID string) *Client {
	return &Client{
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, 32),
		UserID: userID,
		RunID:  runID,
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastToRun queues payload for every client watching runID. Slow
// clients are dropped rather than blocking the sender.
func (h *Hub) BroadcastToRun(runID string, payload []byte) {
	select {
	case h.broadcast <- runMessage{runID: runID, payload: payload}:
	case <-h.done:
	}
}

// Watchers returns the number of clients connected to runID.
func (h *Hub) Watchers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "run_id", c.RunID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("Failed to unmarshal message", "error", err, "run_id", c.RunID)
			continue
		}
		if c.MessageHandler != nil {
			c.MessageHandler(c, msg)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reply sends directly to this client without going through the hub.
func (c *Client) Reply(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "error", err)
		return
	}
	c.trySend(b)
}

// trySend queues b without blocking. It reports false when the buffer is
// full or Send is already closed.
func (c *Client) trySend(b []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
