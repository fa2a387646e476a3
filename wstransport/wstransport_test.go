package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades the request and echoes every text frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			msgType, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(msgType, frame); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectSendReceive(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	conn, err := New().Connect(context.Background(), wsURL(server))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte(`{"type":"heartbeat"}`)))
	frame, err := conn.Receive()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"heartbeat"}`, string(frame))
}

func TestConnectFailure(t *testing.T) {
	_, err := New().Connect(context.Background(), "ws://127.0.0.1:1/nope")
	require.Error(t, err)
}

func TestReceiveErrorsAfterServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer server.Close()

	conn, err := New().Connect(context.Background(), wsURL(server))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Receive()
	require.Error(t, err)
}

func TestConnectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Unroutable address; the dial must give up when the context expires.
	_, err := New().Connect(ctx, "ws://10.255.255.1:80/sync")
	require.Error(t, err)
}

func TestCloseIsIdempotentEnough(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	conn, err := New(WithTimeouts(time.Second, 2*time.Second)).Connect(context.Background(), wsURL(server))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.Error(t, conn.Send([]byte("after close")))
}
