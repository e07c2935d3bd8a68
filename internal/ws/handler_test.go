package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/logging"
)

func dialTestStream(t *testing.T, hub *tracing.Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHandler(hub, nil, logging.Nop())
	r := gin.New()
	r.GET("/stream", h.HandleConnection)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, out interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestStreamDeliversEvents(t *testing.T) {
	hub := tracing.NewHub(nil)
	conn := dialTestStream(t, hub)

	var welcome struct {
		Type   string `json:"type"`
		Client string `json:"client"`
	}
	readMessage(t, conn, &welcome)
	require.Equal(t, "system", welcome.Type)
	require.True(t, strings.HasPrefix(welcome.Client, "client_"))
	require.Equal(t, 1, hub.Subscribers())

	hub.Publish(tracing.Event{Tick: 42, Kind: tracing.KindInstall, Pid: "0.1", Name: "hello"})

	var ev tracing.Event
	readMessage(t, conn, &ev)
	require.Equal(t, tracing.KindInstall, ev.Kind)
	require.Equal(t, uint64(42), ev.Tick)
	require.Equal(t, "0.1", ev.Pid)
}

func TestStreamPingPong(t *testing.T) {
	hub := tracing.NewHub(nil)
	conn := dialTestStream(t, hub)

	var welcome struct {
		Type string `json:"type"`
	}
	readMessage(t, conn, &welcome)
	require.Equal(t, "system", welcome.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	var pong struct {
		Type string `json:"type"`
	}
	readMessage(t, conn, &pong)
	require.Equal(t, "pong", pong.Type)
}

func TestStreamUnsubscribesOnClose(t *testing.T) {
	hub := tracing.NewHub(nil)
	conn := dialTestStream(t, hub)

	var welcome struct {
		Type string `json:"type"`
	}
	readMessage(t, conn, &welcome)
	require.Equal(t, 1, hub.Subscribers())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.Subscribers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
