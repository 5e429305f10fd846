package hub

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type EngineSettings struct {
	UploadTimeout     time.Duration
	PersistTimeout    time.Duration
	LoadTimeout       time.Duration
	HeartbeatInterval time.Duration
}

func DefaultEngineSettings() *EngineSettings {
	return &EngineSettings{
		UploadTimeout:     20 * time.Second,
		PersistTimeout:    5 * time.Second,
		LoadTimeout:       5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Engine validates and applies inbound client messages against the
// canvas state, orchestrates the asset and durable store adapters, and
// fans accepted changes out to every other connection.
//
// For each element id, store mutation, persistence, and the broadcast
// form one critical section, so the write that lands last in the store
// is also the one peers receive last. Uploads run before the id lock
// is taken, so traffic for unrelated elements never waits on an
// upload. Per connection, messages are handled and rebroadcast in
// arrival order because the read loop calls HandleMessage
// synchronously.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry *ConnectionRegistry
	state    *CanvasState
	durable  DurableStore
	assets   AssetStore

	settings *EngineSettings

	// guards the state store and the element lock table
	stateLock    sync.Mutex
	elementLocks map[string]*elementLock
}

func NewEngineWithDefaults(
	ctx context.Context,
	registry *ConnectionRegistry,
	durable DurableStore,
	assets AssetStore,
) *Engine {
	return NewEngine(ctx, registry, durable, assets, DefaultEngineSettings())
}

// assets may be nil, in which case the asset pipeline is disabled and
// asset kind elements are rejected like a failed upload.
func NewEngine(
	ctx context.Context,
	registry *ConnectionRegistry,
	durable DurableStore,
	assets AssetStore,
	settings *EngineSettings,
) *Engine {
	cancelCtx, cancel := context.WithCancel(ctx)
	engine := &Engine{
		ctx:          cancelCtx,
		cancel:       cancel,
		registry:     registry,
		state:        NewCanvasState(),
		durable:      durable,
		assets:       assets,
		settings:     settings,
		elementLocks: map[string]*elementLock{},
	}
	go engine.run()
	return engine
}

func (self *Engine) Registry() *ConnectionRegistry {
	return self.registry
}

func (self *Engine) ElementCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state.Len()
}

func (self *Engine) run() {
	defer self.cancel()

	heartbeat := time.NewTicker(self.settings.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-heartbeat.C:
			self.pingConnections()
		}
	}
}

// pingConnections writes a protocol ping to every live connection and
// prunes the ones that cannot be written to.
func (self *Engine) pingConnections() {
	self.registry.ForEach(func(connection *Connection) {
		if err := connection.Send(pingPayload); err != nil {
			glog.Infof("[hb]prune %s = %s\n", connection.ConnectionId(), err)
			self.registry.Unregister(connection)
			connection.Close()
		}
	})
}

// HandleConnect registers the connection, rehydrates the canvas from
// the durable store, and unicasts the full state to the new client.
// The connection is registered first so that edits accepted during the
// load are not missed. A failed load falls back to the current in
// memory state, which may be empty.
func (self *Engine) HandleConnect(connection *Connection) {
	self.registry.Register(connection)

	loadCtx, loadCancel := context.WithTimeout(self.ctx, self.settings.LoadTimeout)
	elements, err := self.durable.LoadAll(loadCtx)
	loadCancel()

	self.stateLock.Lock()
	if err == nil {
		self.state.ReplaceAll(elements)
	} else {
		glog.Infof("[h]load = %s\n", err)
	}
	snapshot := self.state.SnapshotAll()
	self.stateLock.Unlock()

	payload, err := encodeInitialState(snapshot)
	if err != nil {
		glog.Errorf("[h]initial state encode = %s\n", err)
		return
	}
	if err := connection.Send(payload); err != nil {
		glog.Infof("[h]initial state send %s = %s\n", connection.ConnectionId(), err)
		self.registry.Unregister(connection)
		connection.Close()
	}
}

func (self *Engine) HandleDisconnect(connection *Connection) {
	self.registry.Unregister(connection)
}

// HandleMessage processes one inbound message to completion. Malformed
// or unrecognized input is dropped and the connection stays open.
func (self *Engine) HandleMessage(connection *Connection, payload []byte) {
	message, err := parseClientMessage(payload)
	if err != nil {
		glog.V(2).Infof("[h]parse %s = %s\n", connection.ConnectionId(), err)
		return
	}

	switch message.Type {
	case MessageTypeElementAdd:
		self.elementAdd(connection, message, payload)
	case MessageTypeElementUpdate:
		self.elementUpdate(connection, message, payload)
	case MessageTypeElementDelete:
		self.elementDelete(connection, message, payload)
	case MessageTypeReorderLayers:
		self.reorderLayers(connection, message, payload)
	case MessageTypePing:
		if err := connection.Send(pongPayload); err != nil {
			glog.V(2).Infof("[h]pong %s = %s\n", connection.ConnectionId(), err)
		}
	case MessageTypePong:
		// clients answer heartbeat pings. nothing to do.
	default:
		if isRelayType(message.Type) {
			self.registry.BroadcastExcept(connection, payload)
		} else {
			glog.Infof("[h]unknown message type %s\n", message.Type)
		}
	}
}

func (self *Engine) elementAdd(connection *Connection, message *clientMessage, payload []byte) {
	element := message.Element
	if element == nil || element.Id == "" || element.Kind == "" {
		glog.V(2).Infof("[h]add drop %s\n", connection.ConnectionId())
		return
	}

	out := payload
	if IsAssetKind(element.Kind) {
		// the element must never enter the store with a transient
		// asset reference
		if self.assets == nil {
			glog.Infof("[h]upload %s = no asset store\n", element.Id)
			return
		}
		uploadCtx, uploadCancel := context.WithTimeout(self.ctx, self.settings.UploadTimeout)
		upload, err := self.assets.Upload(uploadCtx, element.Src, element.Kind)
		uploadCancel()
		if err != nil {
			glog.Infof("[h]upload %s = %s\n", element.Id, err)
			return
		}
		element.Src = upload.Url
		element.PublicId = upload.PublicId

		rewritten, err := encodeElementMessage(MessageTypeElementAdd, element)
		if err != nil {
			glog.Errorf("[h]add encode %s = %s\n", element.Id, err)
			return
		}
		out = rewritten
	}

	unlock := self.lockElement(element.Id)
	self.statePut(element)
	self.persist("create", element.Id, func(persistCtx context.Context) error {
		return self.durable.Create(persistCtx, element)
	})
	self.registry.BroadcastExcept(connection, out)
	unlock()
}

func (self *Engine) elementUpdate(connection *Connection, message *clientMessage, payload []byte) {
	element := message.Element
	if element == nil || element.Id == "" {
		glog.V(2).Infof("[h]update drop %s\n", connection.ConnectionId())
		return
	}

	// the element need not pre-exist. the update is an unconditional
	// overwrite. the broadcast stays inside the id lock so that when
	// two updates for one id race, the value stored last is also the
	// value peers receive last.
	unlock := self.lockElement(element.Id)
	self.statePut(element)
	self.persist("update", element.Id, func(persistCtx context.Context) error {
		return self.durable.Update(persistCtx, element)
	})
	self.registry.BroadcastExcept(connection, payload)
	unlock()
}

func (self *Engine) elementDelete(connection *Connection, message *clientMessage, payload []byte) {
	elementId := message.ElementId
	if elementId == "" {
		glog.V(2).Infof("[h]delete drop %s\n", connection.ConnectionId())
		return
	}

	unlock := self.lockElement(elementId)
	existing := self.stateGet(elementId)
	if existing != nil && IsAssetKind(existing.Kind) && existing.PublicId != "" && self.assets != nil {
		// a failed asset delete does not abort the element delete
		deleteCtx, deleteCancel := context.WithTimeout(self.ctx, self.settings.UploadTimeout)
		if err := self.assets.Delete(deleteCtx, existing.PublicId, existing.Kind); err != nil {
			glog.Infof("[h]asset delete %s = %s\n", elementId, err)
		}
		deleteCancel()
	}
	self.stateDelete(elementId)
	self.persist("delete", elementId, func(persistCtx context.Context) error {
		return self.durable.Delete(persistCtx, elementId)
	})
	self.registry.BroadcastExcept(connection, payload)
	unlock()
}

func (self *Engine) reorderLayers(connection *Connection, message *clientMessage, payload []byte) {
	// all ids are locked in sorted order so that overlapping reorders
	// cannot deadlock, and held across the broadcast so that racing
	// writes for the same ids reach peers in store order
	elementIds := []string{}
	for _, order := range message.Elements {
		elementIds = append(elementIds, order.Id)
	}
	slices.Sort(elementIds)
	elementIds = slices.Compact(elementIds)

	unlocks := []func(){}
	for _, elementId := range elementIds {
		unlocks = append(unlocks, self.lockElement(elementId))
	}

	for _, order := range message.Elements {
		if self.stateSetZIndex(order.Id, order.ZIndex) {
			orderId := order.Id
			orderZIndex := order.ZIndex
			self.persist("reorder", orderId, func(persistCtx context.Context) error {
				return self.durable.UpdateZIndex(persistCtx, orderId, orderZIndex)
			})
		}
		// unknown ids are skipped
	}

	// the full original payload is rebroadcast so clients can
	// re-render their layer lists
	self.registry.BroadcastExcept(connection, payload)

	for _, unlock := range unlocks {
		unlock()
	}
}

// persist runs one durable store call with the configured timeout.
// Failures are logged and block neither the in memory mutation nor the
// broadcast. Memory and the durable store converge again on the next
// successful write for the id.
func (self *Engine) persist(op string, elementId string, call func(persistCtx context.Context) error) {
	persistCtx, persistCancel := context.WithTimeout(self.ctx, self.settings.PersistTimeout)
	defer persistCancel()

	if err := call(persistCtx); err != nil {
		glog.Infof("[h]%s %s = %s\n", op, elementId, err)
	}
}

type elementLock struct {
	lock sync.Mutex
	refs int
}

// lockElement serializes store mutation and persistence for one
// element id. Unrelated ids proceed in parallel. The returned function
// releases the lock and drops the table entry once unused.
func (self *Engine) lockElement(elementId string) func() {
	self.stateLock.Lock()
	l, ok := self.elementLocks[elementId]
	if !ok {
		l = &elementLock{}
		self.elementLocks[elementId] = l
	}
	l.refs += 1
	self.stateLock.Unlock()

	l.lock.Lock()
	return func() {
		l.lock.Unlock()

		self.stateLock.Lock()
		l.refs -= 1
		if l.refs == 0 {
			delete(self.elementLocks, elementId)
		}
		self.stateLock.Unlock()
	}
}

func (self *Engine) stateGet(elementId string) *Element {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state.Get(elementId)
}

func (self *Engine) statePut(element *Element) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.state.Put(element)
}

func (self *Engine) stateDelete(elementId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.state.Delete(elementId)
}

func (self *Engine) stateSetZIndex(elementId string, zIndex int) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state.SetZIndex(elementId, zIndex)
}

func (self *Engine) Close() {
	self.cancel()
}
