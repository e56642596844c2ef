// Package protocol defines the JSON websocket messages exchanged between a
// capture client (webcam + face mesh) and the attention service.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message.
type MessageType string

const (
	// Capture → service
	TypeLandmarks MessageType = "landmarks" // face mesh for one frame
	TypeFrame     MessageType = "frame"     // JPEG for the vision oracle
	TypeVerdict   MessageType = "verdict"   // oracle verdict computed client-side

	// Service → capture
	TypeStatus       MessageType = "status"       // escalation snapshot
	TypeIntervention MessageType = "intervention" // new pending message

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for every websocket message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the payload into v. An empty payload leaves v untouched.
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON encoding.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Time returns the message timestamp, or the zero time if unset.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ParseMessage decodes one envelope.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message without type")
	}
	return &msg, nil
}

// Capture → service payloads

// LandmarksData is the face mesh extracted from one frame. An empty Points
// slice means no face was found. Confidence is required when Points is not
// empty.
type LandmarksData struct {
	Points     []PointData `json:"points"`
	Confidence *float64    `json:"confidence,omitempty"` // face detection confidence
	FrameID    uint64      `json:"frame_id,omitempty"`
}

// PointData is one normalized landmark.
type PointData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FrameData carries a JPEG frame for the vision oracle.
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64
	FrameID uint64 `json:"frame_id,omitempty"`
}

// VerdictData is an oracle verdict in the same shape the vision model returns.
type VerdictData struct {
	State      string  `json:"state"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Cause      string  `json:"cause,omitempty"`
}

// Service → capture payloads

// StatusData summarizes the session for the capture client's overlay.
type StatusData struct {
	Active         bool    `json:"active"`
	State          string  `json:"state,omitempty"`
	Level          int     `json:"level"`
	PendingMessage string  `json:"pending_message,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// InterventionData announces a newly generated message.
type InterventionData struct {
	Level    int    `json:"level"`
	Message  string `json:"message"`
	Fallback bool   `json:"fallback,omitempty"`
}

// PingData is a health check.
type PingData struct {
	ID string `json:"id"`
}

// PongData answers a ping.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
