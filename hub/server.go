package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type ServerSettings struct {
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	ReadLimit          ByteCount
	ReadBufferSize     int
	WriteBufferSize    int
	ConnectionSettings *ConnectionSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		HandshakeTimeout: 2 * time.Second,
		// covers two heartbeat intervals plus slack, so one lost pong
		// does not drop the connection
		ReadTimeout: 70 * time.Second,
		// transient srcs for image and audio elements arrive as data
		// urls, so inbound frames can be large
		ReadLimit:          mib(4),
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		ConnectionSettings: DefaultConnectionSettings(),
	}
}

// Server binds the engine to a websocket endpoint. One read loop per
// connection drives the engine, so per connection ordering follows
// arrival order.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	engine   *Engine
	upgrader *websocket.Upgrader
	settings *ServerSettings
}

func NewServerWithDefaults(ctx context.Context, engine *Engine) *Server {
	return NewServer(ctx, engine, DefaultServerSettings())
}

func NewServer(ctx context.Context, engine *Engine, settings *ServerSettings) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:    cancelCtx,
		cancel: cancel,
		engine: engine,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			ReadBufferSize:   settings.ReadBufferSize,
			WriteBufferSize:  settings.WriteBufferSize,
			// connections carry no identity. any origin may join.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		settings: settings,
	}
}

// Router returns the http routes for the hub: the websocket endpoint
// and an operator status endpoint.
func (self *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			glog.V(1).Infof("[s]%s %s status=%d duration=%s\n", r.Method, r.URL.Path, m.Code, m.Duration)
		})
	})
	router.Methods(http.MethodGet).Path("/ws").HandlerFunc(self.handleWs)
	router.Methods(http.MethodGet).Path("/status").HandlerFunc(self.handleStatus)
	return router
}

func (self *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[s]upgrade = %s\n", err)
		return
	}
	ws.SetReadLimit(self.settings.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	})

	connection := NewConnection(ws, self.settings.ConnectionSettings)
	glog.V(1).Infof("[s]connect %s\n", connection.ConnectionId())

	self.engine.HandleConnect(connection)
	defer func() {
		self.engine.HandleDisconnect(connection)
		ws.Close()
		glog.V(1).Infof("[s]disconnect %s\n", connection.ConnectionId())
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[s]read %s = %s\n", connection.ConnectionId(), err)
			return
		}
		// any inbound frame proves the peer is alive
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			self.engine.HandleMessage(connection, message)
		}
	}
}

type statusResult struct {
	Connections int `json:"connections"`
	Elements    int `json:"elements"`
}

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&statusResult{
		Connections: self.engine.Registry().Len(),
		Elements:    self.engine.ElementCount(),
	})
}

func (self *Server) Close() {
	self.cancel()
}
