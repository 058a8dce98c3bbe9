package model

import "encoding/json"

// EventEnvelope is the wire format of every real-time event, inbound and
// outbound: a name plus an opaque JSON payload.
type EventEnvelope struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEventEnvelope(name string, payload any) (EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{Name: name, Payload: data}, nil
}
