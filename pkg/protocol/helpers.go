package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/pose"
)

// ErrNoConfidence is returned for a face mesh sent without its detection
// confidence.
var ErrNoConfidence = errors.New("protocol: landmarks without confidence")

// NewLandmarksMessage creates a landmarks message.
func NewLandmarksMessage(points []pose.Point, confidence float64, frameID uint64) (*Message, error) {
	data := LandmarksData{
		Points:     make([]PointData, len(points)),
		Confidence: &confidence,
		FrameID:    frameID,
	}
	for i, p := range points {
		data.Points[i] = PointData{X: p.X, Y: p.Y, Z: p.Z}
	}
	return NewMessage(TypeLandmarks, data)
}

// NewFrameMessage creates a frame message from JPEG bytes.
func NewFrameMessage(width, height int, jpeg []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpeg),
		FrameID: frameID,
	})
}

// NewVerdictMessage creates a verdict message.
func NewVerdictMessage(v attention.OracleVerdict) (*Message, error) {
	return NewMessage(TypeVerdict, VerdictData{
		State:      string(v.State),
		Reason:     v.Reason,
		Confidence: v.Confidence,
		Cause:      string(v.Cause),
	})
}

// NewPingMessage creates a ping.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage answers a ping.
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetLandmarks extracts and converts a landmarks payload.
func (m *Message) GetLandmarks() ([]pose.Point, float64, error) {
	if m.Type != TypeLandmarks {
		return nil, 0, fmt.Errorf("protocol: %s is not a landmarks message", m.Type)
	}
	var data LandmarksData
	if err := m.ParseData(&data); err != nil {
		return nil, 0, err
	}
	return data.Decode()
}

// Decode converts the payload to pose points. A mesh without a confidence
// fails with ErrNoConfidence; an empty mesh reports confidence 0.
func (d LandmarksData) Decode() ([]pose.Point, float64, error) {
	points := make([]pose.Point, len(d.Points))
	for i, p := range d.Points {
		points[i] = pose.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	if d.Confidence == nil {
		if len(points) > 0 {
			return nil, 0, ErrNoConfidence
		}
		return points, 0, nil
	}
	return points, *d.Confidence, nil
}

// GetFrame extracts the JPEG bytes of a frame message.
func (m *Message) GetFrame() ([]byte, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Format != "" && data.Format != "jpeg" {
		return nil, fmt.Errorf("protocol: unsupported frame format %q", data.Format)
	}
	return base64.StdEncoding.DecodeString(data.Data)
}

// GetPingData extracts ping data.
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewStatusMessage creates a status message.
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewInterventionMessage announces a new pending message.
func NewInterventionMessage(level int, text string, fallback bool) (*Message, error) {
	return NewMessage(TypeIntervention, InterventionData{Level: level, Message: text, Fallback: fallback})
}
