package hub

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"

	"golang.org/x/exp/maps"
)

// messageConn is the slice of the websocket transport the hub needs.
// *websocket.Conn implements it.
type messageConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type ConnectionSettings struct {
	WriteTimeout time.Duration
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		WriteTimeout: 5 * time.Second,
	}
}

// Connection is one open channel to a client. Connections carry no
// protocol level identity. Cursor and user messages carry their own
// payload level identity.
type Connection struct {
	connectionId Id

	ws       messageConn
	settings *ConnectionSettings

	sendLock sync.Mutex
}

func NewConnection(ws messageConn, settings *ConnectionSettings) *Connection {
	return &Connection{
		connectionId: NewId(),
		ws:           ws,
		settings:     settings,
	}
}

func (self *Connection) ConnectionId() Id {
	return self.connectionId
}

// Send writes one text frame. Concurrent senders are serialized so
// broadcast and heartbeat writes never interleave on the wire. A write
// deadline bounds each send. Note that for websocket a deadline
// timeout cannot be recovered.
func (self *Connection) Send(payload []byte) error {
	self.sendLock.Lock()
	defer self.sendLock.Unlock()

	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, payload)
}

func (self *Connection) Close() {
	self.ws.Close()
}

// ConnectionRegistry tracks the live connections. Add, remove and
// iterate are safe to call concurrently.
type ConnectionRegistry struct {
	stateLock   sync.Mutex
	connections map[*Connection]bool
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: map[*Connection]bool{},
	}
}

// Register adds a connection. No-op if already present.
func (self *ConnectionRegistry) Register(connection *Connection) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.connections[connection] = true
}

// Unregister removes a connection. Idempotent.
func (self *ConnectionRegistry) Unregister(connection *Connection) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.connections, connection)
}

func (self *ConnectionRegistry) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.connections)
}

// connectionList snapshots the current set so that sends happen
// outside the lock.
func (self *ConnectionRegistry) connectionList() []*Connection {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Keys(self.connections)
}

// BroadcastExcept delivers payload to every registered connection
// except sender. A nil sender means deliver to all. Delivery is fire
// and forget per connection. A send failure is isolated to that
// connection, which is closed and removed.
func (self *ConnectionRegistry) BroadcastExcept(sender *Connection, payload []byte) {
	for _, connection := range self.connectionList() {
		if connection == sender {
			continue
		}
		if err := connection.Send(payload); err != nil {
			glog.Infof("[r]send %s = %s\n", connection.ConnectionId(), err)
			self.Unregister(connection)
			connection.Close()
		}
	}
}

// ForEach visits a snapshot of the registered connections.
func (self *ConnectionRegistry) ForEach(visitor func(connection *Connection)) {
	for _, connection := range self.connectionList() {
		visitor(connection)
	}
}
