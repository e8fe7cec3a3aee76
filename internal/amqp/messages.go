package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ricorrenti/internal/core"
)

// ErrMalformedMessage marks a delivery that can never be handled; it is
// dropped instead of requeued.
var ErrMalformedMessage = errors.New("malformed event message")

// EventMessage is the wire form of an engine event. Consumers load anything
// else they need from storage by transaction id.
type EventMessage struct {
	core.Event
	Timestamp time.Time `json:"timestamp"`
}

func NewEventMessage(e core.Event) *EventMessage {
	return &EventMessage{Event: e, Timestamp: time.Now().UTC()}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes a delivery body. Bodies that are not JSON or
// lack the event id or type wrap ErrMalformedMessage.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.ID == "" || msg.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedMessage)
	}
	return &msg, nil
}
