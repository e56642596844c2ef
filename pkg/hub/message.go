// Package hub fans status updates out to dashboard websocket clients.
// One goroutine owns the client set; registration, removal and broadcast
// all go through its channels.
package hub

import "encoding/json"

// Message is one pre-encoded JSON text frame.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps already-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// Encode marshals v into a message.
func Encode(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
