package wsgateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one connected socket's delivery surface: a fixed allowlist of
// agent names computed at connect time, and the usual read/write pumps
// grounded on the teacher's gorilla/websocket client, stripped of its
// message-dispatch and subscription machinery since every event this
// gateway ships is already agent-scoped by the hub before it reaches here.
type Client struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	isAdmin bool
	allowed map[string]bool
	logger  *logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn with the visibility allowlist computed for this
// socket's caller.
func NewClient(id string, conn *websocket.Conn, hub *Hub, isAdmin bool, allowedAgents []string, log *logger.Logger) *Client {
	allowed := make(map[string]bool, len(allowedAgents))
	for _, a := range allowedAgents {
		allowed[a] = true
	}
	return &Client{
		id:      id,
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, 256),
		isAdmin: isAdmin,
		allowed: allowed,
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

func (c *Client) canSee(agentName string) bool {
	return c.isAdmin || c.allowed[agentName]
}

func (c *Client) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client send buffer full, dropping event")
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump drains and discards inbound frames, keeping the read deadline
// alive via pong handling. This gateway is publish-only; anything a client
// sends besides a pong is simply not part of the protocol.
func (c *Client) ReadPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// WritePump pumps queued events to the socket, batching whatever has
// queued up since the last write and pinging on the idle ticker.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				_ = w.Close()
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write([]byte{'\n'}); err != nil {
					_ = w.Close()
					return
				}
				if _, err := w.Write(<-c.send); err != nil {
					_ = w.Close()
					return
				}
			}

			if err := w.Close(); err != nil {
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
