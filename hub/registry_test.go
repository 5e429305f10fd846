package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"golang.org/x/exp/slices"
)

// testConn is an in-memory messageConn that records every frame the
// hub writes to it.
type testConn struct {
	stateLock sync.Mutex

	payloads [][]byte
	sendErr  error
	closed   bool
}

func (self *testConn) WriteMessage(messageType int, data []byte) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.sendErr != nil {
		return self.sendErr
	}
	self.payloads = append(self.payloads, slices.Clone(data))
	return nil
}

func (self *testConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (self *testConn) Close() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
	return nil
}

func (self *testConn) sent() [][]byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.payloads)
}

func (self *testConn) isClosed() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.closed
}

func newTestConnection() (*Connection, *testConn) {
	ws := &testConn{}
	return NewConnection(ws, DefaultConnectionSettings()), ws
}

func TestRegisterIdempotent(t *testing.T) {
	registry := NewConnectionRegistry()
	connection, _ := newTestConnection()

	registry.Register(connection)
	registry.Register(connection)
	assert.Equal(t, registry.Len(), 1)

	registry.Unregister(connection)
	registry.Unregister(connection)
	assert.Equal(t, registry.Len(), 0)
}

func TestBroadcastExceptSender(t *testing.T) {
	registry := NewConnectionRegistry()
	connA, wsA := newTestConnection()
	connB, wsB := newTestConnection()
	connC, wsC := newTestConnection()
	registry.Register(connA)
	registry.Register(connB)
	registry.Register(connC)

	registry.BroadcastExcept(connA, []byte(`{"type":"cursorMove"}`))

	assert.Equal(t, len(wsA.sent()), 0)
	assert.Equal(t, len(wsB.sent()), 1)
	assert.Equal(t, len(wsC.sent()), 1)
}

func TestBroadcastNilSenderDeliversToAll(t *testing.T) {
	registry := NewConnectionRegistry()
	connA, wsA := newTestConnection()
	connB, wsB := newTestConnection()
	registry.Register(connA)
	registry.Register(connB)

	registry.BroadcastExcept(nil, []byte(`{"type":"ping"}`))

	assert.Equal(t, len(wsA.sent()), 1)
	assert.Equal(t, len(wsB.sent()), 1)
}

func TestBroadcastPrunesFailedConnection(t *testing.T) {
	registry := NewConnectionRegistry()
	connA, _ := newTestConnection()
	wsB := &testConn{sendErr: errors.New("connection gone")}
	connB := NewConnection(wsB, DefaultConnectionSettings())
	connC, wsC := newTestConnection()
	registry.Register(connA)
	registry.Register(connB)
	registry.Register(connC)

	registry.BroadcastExcept(connA, []byte(`{"type":"cursorMove"}`))

	// the failure is isolated. the healthy peer still got the message.
	assert.Equal(t, registry.Len(), 2)
	assert.Equal(t, wsB.isClosed(), true)
	assert.Equal(t, len(wsC.sent()), 1)
}

func TestForEachVisitsAll(t *testing.T) {
	registry := NewConnectionRegistry()
	connA, _ := newTestConnection()
	connB, _ := newTestConnection()
	registry.Register(connA)
	registry.Register(connB)

	visited := map[*Connection]bool{}
	registry.ForEach(func(connection *Connection) {
		visited[connection] = true
	})

	assert.Equal(t, len(visited), 2)
	assert.Equal(t, visited[connA], true)
	assert.Equal(t, visited[connB], true)
}
