package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

func startServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	handler := protocol.NewHandler(hub, nil, protocol.Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(handler, w, r, strings.TrimPrefix(r.URL.Path, "/ws/"), Config{})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSessionEndToEnd(t *testing.T) {
	hub := NewHub(nil)
	srv := startServer(t, hub)

	a := dial(t, srv, "board")
	assert.Equal(t, "sync", readType(t, a)["type"])

	b := dial(t, srv, "board")
	assert.Equal(t, "sync", readType(t, b)["type"])

	joined := readType(t, a)
	assert.Equal(t, "user_joined", joined["type"])
	assert.Equal(t, float64(2), joined["total_users"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"drawing","x":1,"y":2,"action":"down"}`)))

	drawing := readType(t, b)
	assert.Equal(t, "drawing", drawing["type"])
	data, ok := drawing["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "down", data["action"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	assert.Equal(t, "error", readType(t, a)["type"])

	require.NoError(t, b.Close())
	left := readType(t, a)
	assert.Equal(t, "user_left", left["type"])
	assert.Equal(t, float64(1), left["total_users"])

	assert.Eventually(t, func() bool { return hub.Count("board") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), clientID: "x", roomID: "r"}

	require.NoError(t, c.Send([]byte("one")))
	assert.ErrorIs(t, c.Send([]byte("two")), ErrSendBufferFull)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("three")), ErrClientClosed)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, "closed", c.State().String())
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	hub := NewHub(nil)
	srv := startServer(t, hub)

	a := dial(t, srv, "board")
	assert.Equal(t, "sync", readType(t, a)["type"])
	require.Eventually(t, func() bool { return hub.Count("board") == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	assert.Equal(t, 0, hub.GetClientCount())

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.Error(t, err, "the server closed the socket")
}
