package hub

import (
	"encoding/json"
)

// known element kinds. Other kinds are allowed and treated as plain
// canvas objects with no asset reference.
const (
	ElementKindShape = "shape"
	ElementKindImage = "image"
	ElementKindAudio = "audio"
)

// IsAssetKind reports whether elements of this kind reference a binary
// payload that must live in the asset store before the element becomes
// visible state.
func IsAssetKind(kind string) bool {
	return kind == ElementKindImage || kind == ElementKindAudio
}

// Element is one addressable object on the shared canvas. Ids are
// client generated and unique across the canvas. Fields the hub does
// not understand (position, size, style, content) are carried opaquely
// and rebroadcast byte for byte.
type Element struct {
	Id       string
	Kind     string
	ZIndex   int
	Src      string
	PublicId string

	extra map[string]json.RawMessage
}

func (self *Element) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &self.Id); err != nil {
			return err
		}
		delete(fields, "id")
	}
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &self.Kind); err != nil {
			return err
		}
		delete(fields, "type")
	}
	if raw, ok := fields["zIndex"]; ok {
		if err := json.Unmarshal(raw, &self.ZIndex); err != nil {
			return err
		}
		delete(fields, "zIndex")
	}
	if raw, ok := fields["src"]; ok {
		if err := json.Unmarshal(raw, &self.Src); err != nil {
			return err
		}
		delete(fields, "src")
	}
	if raw, ok := fields["publicId"]; ok {
		if err := json.Unmarshal(raw, &self.PublicId); err != nil {
			return err
		}
		delete(fields, "publicId")
	}
	self.extra = fields
	return nil
}

func (self *Element) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for key, value := range self.extra {
		fields[key] = value
	}
	set := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := set("id", self.Id); err != nil {
		return nil, err
	}
	if err := set("type", self.Kind); err != nil {
		return nil, err
	}
	if err := set("zIndex", self.ZIndex); err != nil {
		return nil, err
	}
	if self.Src != "" {
		if err := set("src", self.Src); err != nil {
			return nil, err
		}
	}
	if self.PublicId != "" {
		if err := set("publicId", self.PublicId); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// Extra returns one opaque passthrough field.
func (self *Element) Extra(key string) (json.RawMessage, bool) {
	raw, ok := self.extra[key]
	return raw, ok
}

// Clone returns a copy that shares no mutable state with the original.
// The raw values in extra are never mutated, so sharing them is safe.
func (self *Element) Clone() *Element {
	element := &Element{
		Id:       self.Id,
		Kind:     self.Kind,
		ZIndex:   self.ZIndex,
		Src:      self.Src,
		PublicId: self.PublicId,
	}
	if self.extra != nil {
		element.extra = map[string]json.RawMessage{}
		for key, value := range self.extra {
			element.extra[key] = value
		}
	}
	return element
}
