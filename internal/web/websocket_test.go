package web

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, h *testHarness, workspaceID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") +
		"/ws?workspace_id=" + workspaceID

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(
		time.Now().Add(2*time.Second),
	))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestWebSocketDeliversExecutionStatus(t *testing.T) {
	h := newHarness(t)
	conn := dialWS(t, h, "ws-1")

	msg := readWSMessage(t, conn)
	require.Equal(t, WSMsgTypeConnected, msg.Type)

	// Wait for the hub to register the client before broadcasting.
	require.Eventually(t, func() bool {
		return h.server.hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	h.engine.emit("ws-1", "exec-1", store.StatusRunning)

	msg = readWSMessage(t, conn)
	require.Equal(t, WSMsgTypeExecutionStatus, msg.Type)

	payload := msg.Payload.(map[string]any)
	require.Equal(t, "exec-1", payload["execution_id"])
	require.Equal(t, "running", payload["status"])
}

func TestWebSocketScopesBroadcastsToWorkspace(t *testing.T) {
	h := newHarness(t)
	conn := dialWS(t, h, "ws-other")

	msg := readWSMessage(t, conn)
	require.Equal(t, WSMsgTypeConnected, msg.Type)

	h.engine.emit("ws-1", "exec-1", store.StatusRunning)

	// The client subscribed to a different workspace sees nothing.
	require.NoError(t, conn.SetReadDeadline(
		time.Now().Add(300*time.Millisecond),
	))
	var other WSMessage
	require.Error(t, conn.ReadJSON(&other))
}

func TestWebSocketPingPong(t *testing.T) {
	h := newHarness(t)
	conn := dialWS(t, h, "ws-1")

	msg := readWSMessage(t, conn)
	require.Equal(t, WSMsgTypeConnected, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "ping",
	}))

	msg = readWSMessage(t, conn)
	require.Equal(t, WSMsgTypePong, msg.Type)
}
