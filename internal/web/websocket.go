package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket message types for real-time updates.
const (
	WSMsgTypeExecutionStatus = "execution_status"
	WSMsgTypePong            = "pong"
	WSMsgTypeConnected       = "connected"
	WSMsgTypeSubscribed      = "subscribed"
	WSMsgTypeError           = "error"
)

// WSMessage is one message sent to WebSocket clients.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub maintains the set of active WebSocket clients and fans execution
// status changes out to them.
type Hub struct {
	// clients holds the connections subscribed to each workspace.
	clients map[string]map[*WSClient]struct{}

	// allClients holds every connection regardless of subscription.
	allClients map[*WSClient]struct{}

	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan *workspaceBroadcast

	mu  sync.RWMutex
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// workspaceBroadcast targets a message at one workspace's subscribers.
type workspaceBroadcast struct {
	workspaceID string
	message     *WSMessage
}

// NewHub creates a new WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[string]map[*WSClient]struct{}),
		allClients: make(map[*WSClient]struct{}),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan *workspaceBroadcast, 256),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run drives the hub until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.allClients {
				client.Close()
			}
			h.mu.Unlock()

			return

		case client := <-h.register:
			workspaceID := client.WorkspaceID()
			h.mu.Lock()
			h.allClients[client] = struct{}{}
			if workspaceID != "" {
				h.subscribeLocked(client, workspaceID)
			}
			h.mu.Unlock()

			h.log.Debug(
				"WebSocket client registered",
				"workspace_id", workspaceID,
				"total", h.ClientCount(),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				h.unsubscribeLocked(
					client, client.WorkspaceID(),
				)
				client.Close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.workspaceID] {
				client.Send(msg.message)
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeLocked adds a client to a workspace's subscriber set. The hub
// mutex must be held.
func (h *Hub) subscribeLocked(client *WSClient, workspaceID string) {
	if h.clients[workspaceID] == nil {
		h.clients[workspaceID] = make(map[*WSClient]struct{})
	}
	h.clients[workspaceID][client] = struct{}{}
}

// unsubscribeLocked removes a client from a workspace's subscriber set.
// The hub mutex must be held.
func (h *Hub) unsubscribeLocked(client *WSClient, workspaceID string) {
	if workspaceID == "" {
		return
	}

	delete(h.clients[workspaceID], client)
	if len(h.clients[workspaceID]) == 0 {
		delete(h.clients, workspaceID)
	}
}

// Stop shuts down the hub.
func (h *Hub) Stop() {
	h.cancel()
}

// BroadcastToWorkspace sends a message to every client subscribed to the
// workspace. Messages are dropped when the buffer is full.
func (h *Hub) BroadcastToWorkspace(workspaceID string, msg *WSMessage) {
	select {
	case h.broadcast <- &workspaceBroadcast{
		workspaceID: workspaceID,
		message:     msg,
	}:

	default:
		h.log.Warn(
			"Broadcast buffer full, dropping message",
			"workspace_id", workspaceID,
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.allClients)
}

// upgrader configures the HTTP-to-WebSocket upgrade. Cross-origin
// connections are limited to the serving host.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		host := r.Host

		return origin == "http://"+host || origin == "https://"+host
	},
}

// handleWebSocket handles WebSocket connections at /ws. Clients subscribe
// to one workspace via the workspace_id query parameter or a subscribe
// message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(
			w, "WebSocket not available",
			http.StatusServiceUnavailable,
		)

		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "err", err)

		return
	}

	client := NewWSClient(s.hub, conn, workspaceID)
	s.hub.register <- client

	client.Send(&WSMessage{
		Type: WSMsgTypeConnected,
		Payload: map[string]any{
			"workspace_id": workspaceID,
			"time":         time.Now().UTC().Format(time.RFC3339),
		},
	})

	go client.writePump()
	go client.readPump()
}

// handleIncomingMessage processes messages received from WebSocket
// clients.
func (h *Hub) handleIncomingMessage(
	client *WSClient, messageType int, data []byte,
) {

	if messageType != websocket.TextMessage {
		return
	}

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		client.Send(&WSMessage{
			Type: WSMsgTypeError,
			Payload: map[string]any{
				"message": "Invalid message format",
			},
		})

		return
	}

	switch msg.Type {
	case "ping":
		client.Send(&WSMessage{
			Type: WSMsgTypePong,
			Payload: map[string]any{
				"time": time.Now().UTC().Format(time.RFC3339),
			},
		})

	case "subscribe":
		var sub struct {
			WorkspaceID string `json:"workspace_id"`
		}
		if err := json.Unmarshal(msg.Data, &sub); err != nil ||
			sub.WorkspaceID == "" {

			return
		}

		h.mu.Lock()
		h.unsubscribeLocked(client, client.WorkspaceID())
		client.SetWorkspaceID(sub.WorkspaceID)
		h.subscribeLocked(client, sub.WorkspaceID)
		h.mu.Unlock()

		client.Send(&WSMessage{
			Type: WSMsgTypeSubscribed,
			Payload: map[string]any{
				"workspace_id": sub.WorkspaceID,
			},
		})

	default:
		client.Send(&WSMessage{
			Type: WSMsgTypeError,
			Payload: map[string]any{
				"message": "Unknown message type: " + msg.Type,
			},
		})
	}
}
