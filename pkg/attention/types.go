// Package attention classifies a user's visual attention from local pose
// signals and an optional secondary verdict from a remote vision oracle.
package attention

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teslashibe/go-attention/pkg/pose"
)

// State is the classifier's primary output.
type State string

const (
	Focused    State = "focused"
	Distracted State = "distracted"
	Idle       State = "idle"
	Unknown    State = "unknown"
)

// ParseState parses a state name, case-insensitively.
func ParseState(s string) (State, error) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case Focused, Distracted, Idle, Unknown:
		return st, nil
	default:
		return "", fmt.Errorf("attention: unknown state %q", s)
	}
}

// Cause tags why a user is distracted or idle. It is derived once from
// structured evidence and is what downstream policy keys on; Reason text is
// display only.
type Cause string

const (
	CauseNone         Cause = ""
	CausePhoneUse     Cause = "phone_use"
	CauseLookingAway  Cause = "looking_away"
	CauseEyesClosed   Cause = "eyes_closed"
	CauseAwayFromDesk Cause = "away_from_desk"
	CauseGeneric      Cause = "generic"
)

// ParseCause parses a cause tag. Unrecognized tags map to CauseGeneric.
func ParseCause(s string) Cause {
	switch c := Cause(strings.ToLower(strings.TrimSpace(s))); c {
	case CauseNone, CausePhoneUse, CauseLookingAway, CauseEyesClosed, CauseAwayFromDesk, CauseGeneric:
		return c
	default:
		return CauseGeneric
	}
}

// specificity orders causes when two sources agree on a state.
func (c Cause) specificity() int {
	switch c {
	case CausePhoneUse:
		return 5
	case CauseEyesClosed:
		return 4
	case CauseAwayFromDesk:
		return 3
	case CauseLookingAway:
		return 2
	case CauseGeneric:
		return 1
	default:
		return 0
	}
}

// Source identifies which signal produced a Result.
type Source string

const (
	SourceLocal  Source = "local"
	SourceOracle Source = "oracle"
	SourceFused  Source = "fused"
)

// OracleVerdict is an independent judgment from the remote vision model.
// State is never Unknown.
type OracleVerdict struct {
	State      State     `json:"state"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Cause      Cause     `json:"cause,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Input is everything the classifier sees for one evaluation.
type Input struct {
	FaceDetected bool
	HeadPose     *pose.HeadPose
	EyesOpen     bool
	Confidence   float64
	Oracle       *OracleVerdict
}

// Result is one classification verdict.
type Result struct {
	State      State   `json:"state"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Cause      Cause   `json:"cause,omitempty"`
	Source     Source  `json:"source"`
}

// clamp01 restricts a confidence to [0,1]. NaN becomes 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
