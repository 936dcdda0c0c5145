package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/model"
)

func newWebSocketServer(t *testing.T, updates *fakeUpdates) (*EventBus, *WebSocketHandler, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	bus := NewEventBus(logger)
	go bus.Start()
	h := NewWebSocketHandler(bus, updates, nil, logger)
	h.Start()

	r := gin.New()
	h.RegisterRoutes(r.Group("/ws"))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})

	return bus, h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/updates"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, h *WebSocketHandler, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.GetConnectionStats().TotalConnections == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_StreamsSessionEvents(t *testing.T) {
	active := &model.UpdateSession{ID: uuid.New(), State: model.SessionStateBackingUp}
	bus, h, url := newWebSocketServer(t, &fakeUpdates{active: active})

	conn := dial(t, url)
	initial := readMessage(t, conn)
	assert.Equal(t, "initial_status", initial["type"])
	assert.Equal(t, true, initial["data"].(map[string]interface{})["running"])
	waitForClients(t, h, 1)

	bus.Publish(model.SessionEvent{
		SessionID: active.ID,
		EventType: model.EventLogAppended,
		Message:   "2026-10-19 12:00:00 Backing up settings",
		Timestamp: time.Now(),
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "session_event", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, active.ID.String(), data["session_id"])
	assert.Equal(t, string(model.EventLogAppended), data["event_type"])
}

func TestWebSocket_SessionFilter(t *testing.T) {
	bus, h, url := newWebSocketServer(t, &fakeUpdates{})
	followed := uuid.New()

	conn := dial(t, url+"?session_id="+followed.String())
	initial := readMessage(t, conn)
	assert.Equal(t, false, initial["data"].(map[string]interface{})["running"])
	waitForClients(t, h, 1)

	bus.Publish(model.SessionEvent{SessionID: uuid.New(), EventType: model.EventStateChanged})
	bus.Publish(model.SessionEvent{SessionID: followed, EventType: model.EventSessionCompleted})

	msg := readMessage(t, conn)
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, followed.String(), data["session_id"])
	assert.Equal(t, string(model.EventSessionCompleted), data["event_type"])
}

func TestWebSocket_ClientMessages(t *testing.T) {
	_, _, url := newWebSocketServer(t, &fakeUpdates{})
	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn)["type"])

	id := uuid.New()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "data": map[string]string{"session_id": id.String()}}))
	confirmed := readMessage(t, conn)
	assert.Equal(t, "subscription_confirmed", confirmed["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "data": map[string]string{"session_id": "nope"}}))
	assert.Equal(t, "error", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "dance"}))
	assert.Equal(t, "error", readMessage(t, conn)["type"])
}

func TestWebSocket_RejectsBadSessionID(t *testing.T) {
	_, _, url := newWebSocketServer(t, &fakeUpdates{})
	_, resp, err := websocket.DefaultDialer.Dial(url+"?session_id=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestWebSocket_Stats(t *testing.T) {
	_, h, url := newWebSocketServer(t, &fakeUpdates{})
	conn := dial(t, url)
	readMessage(t, conn)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)
}
