package pricefeed

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
)

func feedServer(t *testing.T, subscribed chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Asset
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteJSON(wireMessage{Type: "price", Data: []wireTick{{A: sub.Asset, P: 2.5, C: 0.9, T: 1_700_000_000_000}}})
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientStreamsPriceTicks(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := feedServer(t, subscribed)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(url, []string{"TOSS"}, 10*time.Millisecond, time.Second)
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "TOSS", <-subscribed)

	ticks, _ := c.Read(ctx)
	select {
	case tick := <-ticks:
		require.NotNil(t, tick)
		assert.Equal(t, "TOSS", tick.Asset)
		assert.Equal(t, 2.5, tick.Price)
		assert.Equal(t, int64(1_700_000_000_000), tick.Timestamp)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}
}

func TestClientSubscribeRequiresConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1", []string{"TOSS"}, 0, 0)
	assert.Error(t, c.Subscribe(context.Background()))
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Close())
}
