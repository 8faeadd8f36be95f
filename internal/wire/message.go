// Package wire defines the JSON message envelope exchanged with the backend
// over the WebSocket connection.
//
// Outbound messages are invoke requests carrying a correlation id. Inbound
// messages are either replies (response or error, echoing the id) or
// unsolicited events carrying an event name and payload.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message type constants
const (
	TypeInvoke   = "invoke"
	TypeResponse = "response"
	TypeError    = "error"
	TypeEvent    = "event"
)

// Envelope is the wire format for every message on the socket.
//
// Fields are populated depending on Type:
//   - invoke:   ID, Command, Args
//   - response: ID, Data
//   - error:    ID, Error
//   - event:    Event, Payload
type Envelope struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id,omitempty"`
	Command string                 `json:"command,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Data    json.RawMessage        `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Event   string                 `json:"event,omitempty"`
	Payload json.RawMessage        `json:"payload,omitempty"`
}

// NewInvoke creates an invoke envelope with a fresh correlation id.
func NewInvoke(command string, args map[string]interface{}) *Envelope {
	return &Envelope{
		Type:    TypeInvoke,
		ID:      uuid.New().String(),
		Command: command,
		Args:    args,
	}
}

// NewResponse creates a response envelope for the given correlation id
func NewResponse(id string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeResponse, ID: id, Data: raw}, nil
}

// NewError creates an error envelope for the given correlation id
func NewError(id string, message string) *Envelope {
	return &Envelope{Type: TypeError, ID: id, Error: message}
}

// NewEvent creates an event envelope
func NewEvent(event string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeEvent, Event: event, Payload: raw}, nil
}

// Parse parses a message from raw JSON bytes
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes the envelope for the wire
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
