package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, settings *ServerSettings) (*httptest.Server, *engineFixture) {
	f := newEngineFixture(t, DefaultEngineSettings())
	server := NewServer(context.Background(), f.engine, settings)
	t.Cleanup(server.Close)

	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)
	return httpServer, f
}

func dialWs(t *testing.T, httpServer *httptest.Server) *websocket.Conn {
	wsUrl := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ws.Close()
	})
	return ws
}

func TestServerDropsSilentConnection(t *testing.T) {
	settings := DefaultServerSettings()
	settings.ReadTimeout = 50 * time.Millisecond
	httpServer, _ := newTestServer(t, settings)

	ws := dialWs(t, httpServer)
	_, payload, err := ws.ReadMessage()
	assert.Equal(t, err, nil)
	assert.Equal(t, string(payload), `{"type":"initialState","elements":[]}`)

	// say nothing. the read deadline expires and the socket closes.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.NotEqual(t, err, nil)
}

func TestServerReadDeadlineRefreshedByTraffic(t *testing.T) {
	settings := DefaultServerSettings()
	settings.ReadTimeout = 250 * time.Millisecond
	httpServer, f := newTestServer(t, settings)

	ws := dialWs(t, httpServer)
	_, _, err := ws.ReadMessage()
	assert.Equal(t, err, nil)

	// frames spaced well under the deadline keep the connection alive
	// well past the initial deadline
	for i := 0; i < 6; i += 1 {
		time.Sleep(80 * time.Millisecond)
		err = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		assert.Equal(t, err, nil)
		_, payload, err := ws.ReadMessage()
		assert.Equal(t, err, nil)
		assert.Equal(t, string(payload), `{"type":"pong"}`)
	}
	assert.Equal(t, f.registry.Len(), 1)
}
