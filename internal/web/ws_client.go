package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod is the ping cadence. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from the peer.
	maxMessageSize = 4096

	// sendBufferSize is the size of the client send buffer.
	sendBufferSize = 256
)

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// workspaceID is the workspace this connection is subscribed to.
	workspaceID string

	send chan *WSMessage

	mu     sync.Mutex
	closed bool
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(
	hub *Hub, conn *websocket.Conn, workspaceID string,
) *WSClient {

	return &WSClient{
		hub:         hub,
		conn:        conn,
		workspaceID: workspaceID,
		send:        make(chan *WSMessage, sendBufferSize),
	}
}

// WorkspaceID returns the workspace this client is subscribed to.
func (c *WSClient) WorkspaceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.workspaceID
}

// SetWorkspaceID changes the client's workspace subscription.
func (c *WSClient) SetWorkspaceID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.workspaceID = id
}

// Send queues a message for delivery. Messages are dropped when the
// buffer is full.
func (c *WSClient) Send(msg *WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.hub.log.Warn(
			"Send buffer full, dropping message",
			"workspace_id", c.workspaceID,
		)
	}
}

// Close closes the client connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
	c.conn.Close()
}

// readPump pumps messages from the WebSocket connection to the hub. It
// runs in its own goroutine per client.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.hub.log.Debug(
					"WebSocket read error",
					"workspace_id", c.WorkspaceID(),
					"err", err,
				)
			}

			return
		}

		c.hub.handleIncomingMessage(c, messageType, data)
	}
}

// writePump pumps messages from the hub to the WebSocket connection. It
// runs in its own goroutine per client.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(
					websocket.CloseMessage, []byte{},
				)

				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.log.Warn(
					"Message encoding failed", "err", err,
				)

				continue
			}

			err = c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
