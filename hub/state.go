package hub

import (
	"golang.org/x/exp/maps"
)

// CanvasState is the authoritative mapping of element id to the
// current element snapshot. It does no locking of its own. The engine
// serializes all access (see Engine.lockElement).
type CanvasState struct {
	elements map[string]*Element
}

func NewCanvasState() *CanvasState {
	return &CanvasState{
		elements: map[string]*Element{},
	}
}

// Get returns a copy of the current snapshot, or nil if absent.
func (self *CanvasState) Get(elementId string) *Element {
	element, ok := self.elements[elementId]
	if !ok {
		return nil
	}
	return element.Clone()
}

// Put inserts or wholly replaces the snapshot keyed by element.Id.
// Last writer wins. There is no field level merge.
func (self *CanvasState) Put(element *Element) {
	self.elements[element.Id] = element.Clone()
}

func (self *CanvasState) Delete(elementId string) {
	delete(self.elements, elementId)
}

// SetZIndex mutates only the stacking order of an existing element.
// Returns false for unknown ids, which are left untouched.
func (self *CanvasState) SetZIndex(elementId string, zIndex int) bool {
	element, ok := self.elements[elementId]
	if !ok {
		return false
	}
	element.ZIndex = zIndex
	return true
}

// SnapshotAll returns copies of all current snapshots in unspecified
// order. Clients sort by z-index themselves.
func (self *CanvasState) SnapshotAll() []*Element {
	elements := make([]*Element, 0, len(self.elements))
	for _, element := range maps.Values(self.elements) {
		elements = append(elements, element.Clone())
	}
	return elements
}

// ReplaceAll clears the state and repopulates it. Used at rehydration.
func (self *CanvasState) ReplaceAll(elements []*Element) {
	maps.Clear(self.elements)
	for _, element := range elements {
		self.elements[element.Id] = element.Clone()
	}
}

func (self *CanvasState) Len() int {
	return len(self.elements)
}
