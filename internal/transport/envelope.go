package transport

import "encoding/json"

// Wire event names exchanged with the chat gateway.
const (
	EventSessionReady     = "session-ready"
	EventJoin             = "join"
	EventLeave            = "leave"
	EventMessagePushed    = "message-pushed"
	EventMessageDelivered = "message-delivered"
	EventMessagesRead     = "messages-read"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
)

// Envelope is the framing for every gateway event, in both directions.
// Payload shape depends on Event and is decoded by the consumer.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode builds the wire bytes for an event with the given payload.
func Encode(eventName string, payload any) ([]byte, error) {
	env := Envelope{Event: eventName}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses wire bytes into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
