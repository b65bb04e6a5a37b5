package engine

import (
	"encoding/json"
)

// Inbound push events are parsed into a tagged variant at the boundary; the
// rest of the engine never touches raw maps. Unknown kinds and types decode
// to UnknownEvent for forward compatibility.

type Event interface{ isEvent() }

type UpdateEvent struct {
	Type      string
	SessionID string
	MessageID string
}

type EphemeralEvent struct {
	SessionID string
	State     string
}

type UnknownEvent struct {
	Kind string
}

func (UpdateEvent) isEvent()    {}
func (EphemeralEvent) isEvent() {}
func (UnknownEvent) isEvent()   {}

// Update event type tags, as sent by the server.
const (
	evNewMessage          = "new-message"
	evUpdateSession       = "update-session"
	evDeleteSession       = "delete-session"
	evUpdateMachine       = "update-machine"
	evUpdateAccount       = "update-account"
	evRelationshipUpdated = "relationship-updated"
	evNewArtifact         = "new-artifact"
	evUpdateArtifact      = "update-artifact"
	evUpdateTodo          = "update-todo"
	evUpdatePurchases     = "update-purchases"
	evNativeUpdate        = "native-update"
)

type wireEvent struct {
	Kind      string `json:"kind"`
	Type      string `json:"type,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	State     string `json:"state,omitempty"`
}

func parseEvent(data []byte) Event {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return UnknownEvent{}
	}
	switch w.Kind {
	case "update":
		return UpdateEvent{Type: w.Type, SessionID: w.SessionID, MessageID: w.MessageID}
	case "ephemeral":
		return EphemeralEvent{SessionID: w.SessionID, State: w.State}
	default:
		return UnknownEvent{Kind: w.Kind}
	}
}

// outboundMessage is the only thing the client writes to the push channel.
type outboundMessage struct {
	Kind      string `json:"kind"` // always "message"
	SessionID string `json:"sessionId"`
	LocalID   string `json:"localId"`
	Content   []byte `json:"content"`
}
