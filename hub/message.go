package hub

import (
	"encoding/json"
	"errors"
)

const (
	MessageTypeInitialState   = "initialState"
	MessageTypeElementAdd     = "elementAdd"
	MessageTypeElementUpdate  = "elementUpdate"
	MessageTypeElementDelete  = "elementDelete"
	MessageTypeReorderLayers  = "reorderLayers"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeCursorMove     = "cursorMove"
	MessageTypeUserConnect    = "userConnect"
	MessageTypeUserDisconnect = "userDisconnect"
)

var pingPayload = []byte(`{"type":"ping"}`)
var pongPayload = []byte(`{"type":"pong"}`)

// LayerOrder is one entry of a reorderLayers message.
type LayerOrder struct {
	Id     string `json:"id"`
	ZIndex int    `json:"zIndex"`
}

// clientMessage is the envelope for inbound messages. Only the fields
// relevant to the message type are populated.
type clientMessage struct {
	Type      string       `json:"type"`
	Element   *Element     `json:"element,omitempty"`
	ElementId string       `json:"elementId,omitempty"`
	Elements  []LayerOrder `json:"elements,omitempty"`
}

func parseClientMessage(payload []byte) (*clientMessage, error) {
	message := &clientMessage{}
	if err := json.Unmarshal(payload, message); err != nil {
		return nil, err
	}
	if message.Type == "" {
		return nil, errors.New("message missing type")
	}
	return message, nil
}

// isRelayType reports whether the type is ephemeral presence traffic
// that is fanned out verbatim and never stored or persisted.
func isRelayType(messageType string) bool {
	switch messageType {
	case MessageTypeCursorMove, MessageTypeUserConnect, MessageTypeUserDisconnect:
		return true
	}
	return false
}

type initialStateMessage struct {
	Type     string     `json:"type"`
	Elements []*Element `json:"elements"`
}

func encodeInitialState(elements []*Element) ([]byte, error) {
	if elements == nil {
		elements = []*Element{}
	}
	return json.Marshal(&initialStateMessage{
		Type:     MessageTypeInitialState,
		Elements: elements,
	})
}

func encodeElementMessage(messageType string, element *Element) ([]byte, error) {
	return json.Marshal(&clientMessage{
		Type:    messageType,
		Element: element,
	})
}
