package gqlws

import "github.com/goccy/go-json"

// Subprotocol is the websocket subprotocol negotiated during the upgrade.
const Subprotocol = "graphql-transport-ws"

// MessageType identifies a protocol frame.
type MessageType string

const (
	MessageTypeConnectionInit MessageType = "connection_init"
	MessageTypeConnectionAck  MessageType = "connection_ack"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeNext           MessageType = "next"
	MessageTypeError          MessageType = "error"
	MessageTypeComplete       MessageType = "complete"
)

// Message is one protocol frame. ID is set on subscription-scoped frames
// only, and Payload is type-dependent.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload carries the operation of a subscribe frame.
type SubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// InitPayload carries the credentials of a connection_init frame.
type InitPayload struct {
	Token string `json:"token"`
}
