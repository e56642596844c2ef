// Package escalation runs the timed intervention ladder driven by attention
// verdicts.
//
// The engine is polled at a fixed interval. Continuous distraction raises the
// level 0→1→2→3 on a schedule, each raise producing one intervention message;
// sustained focus resets the ladder. All state is owned by the Engine and
// mutated only through Tick, Dismiss, ResetLadder and the session calls.
package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
)

// ErrNoSession is returned by session-level callers when no session is active.
var ErrNoSession = errors.New("escalation: no active session")

// Level is the intervention severity.
type Level int

const (
	LevelNone     Level = 0
	LevelNudge    Level = 1
	LevelWarning  Level = 2
	LevelCritical Level = 3

	// MaxLevel is the terminal severity.
	MaxLevel = LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelNudge:
		return "nudge"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "invalid"
	}
}

// Config holds the ladder timing.
type Config struct {
	PollInterval time.Duration // how often the engine is ticked

	FirstEscalation  time.Duration // continuous distraction before level 1
	SecondEscalation time.Duration // time at level 1 before level 2
	ThirdEscalation  time.Duration // time at level 2 before level 3

	FocusReset time.Duration // sustained focus that clears the ladder

	MessageTimeout time.Duration // bound on one message generation call
}

// DefaultConfig returns the production ladder timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:     500 * time.Millisecond,
		FirstEscalation:  5 * time.Second,
		SecondEscalation: 10 * time.Second,
		ThirdEscalation:  15 * time.Second,
		FocusReset:       30 * time.Second,
		MessageTimeout:   8 * time.Second,
	}
}

// threshold returns the wait before leaving level l.
func (c Config) threshold(l Level) time.Duration {
	switch l {
	case LevelNone:
		return c.FirstEscalation
	case LevelNudge:
		return c.SecondEscalation
	default:
		return c.ThirdEscalation
	}
}

// SessionStats accumulates over one monitoring session.
type SessionStats struct {
	DistractionCount    int           `json:"distraction_count"`
	TotalFocusedTime    time.Duration `json:"total_focused_time"`
	TotalDistractedTime time.Duration `json:"total_distracted_time"`
}

// Snapshot is a read-only copy of the engine state.
// Nil time pointers are absent.
type Snapshot struct {
	SessionID        string          `json:"session_id,omitempty"`
	Active           bool            `json:"active"`
	Level            Level           `json:"level"`
	State            attention.State `json:"state,omitempty"`
	Cause            attention.Cause `json:"cause,omitempty"`
	DistractionStart *time.Time      `json:"distraction_start,omitempty"`
	LastEscalation   *time.Time      `json:"last_escalation,omitempty"`
	FocusedSince     *time.Time      `json:"focused_since,omitempty"`
	PendingMessage   string          `json:"pending_message,omitempty"`
	Generating       bool            `json:"generating"`
	Stats            SessionStats    `json:"stats"`
}

// MessageRequest describes one escalation for message generation.
type MessageRequest struct {
	State               attention.State
	Cause               attention.Cause
	Reason              string
	DistractionDuration time.Duration
	Level               Level
	DistractionCount    int
}

// MessageGenerator produces intervention text. Implementations may call a
// remote service; the engine bounds each call and falls back on any error.
type MessageGenerator interface {
	Generate(ctx context.Context, req MessageRequest) (string, error)
}

// MessageGeneratorFunc adapts a function to MessageGenerator.
type MessageGeneratorFunc func(ctx context.Context, req MessageRequest) (string, error)

// Generate calls f.
func (f MessageGeneratorFunc) Generate(ctx context.Context, req MessageRequest) (string, error) {
	return f(ctx, req)
}

// EventType identifies an engine event.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
	EventStateChanged   EventType = "state_changed"
	EventEscalated      EventType = "escalated"
	EventReset          EventType = "reset"
	EventDismissed      EventType = "dismissed"
)

// Event is delivered to subscribers after the state change it describes.
type Event struct {
	Type     EventType `json:"type"`
	At       time.Time `json:"at"`
	Snapshot Snapshot  `json:"snapshot"`

	// Set on EventEscalated
	Fallback bool `json:"fallback,omitempty"`
}
