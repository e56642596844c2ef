// Package oracle brings secondary attention verdicts from a remote vision
// model into the classifier. Verdicts arrive from a VisionOracle polling a
// model with the latest frame, from an MQTT topic, or over HTTP, and are held
// in a Store that treats anything older than its staleness window as absent.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/teslashibe/go-attention/pkg/attention"
)

// ErrInvalidVerdict is returned for payloads that carry no usable verdict.
var ErrInvalidVerdict = errors.New("oracle: invalid verdict")

// DefaultConfidence is used when a payload omits confidence.
const DefaultConfidence = 0.5

type rawVerdict struct {
	State      string   `json:"state"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
	Cause      string   `json:"cause"`
}

// ParseVerdict decodes model output into a verdict. It tolerates markdown
// fences and prose around the JSON object. Unknown or unrecognized states are
// rejected; confidence is clamped to [0,1].
func ParseVerdict(text string) (attention.OracleVerdict, error) {
	obj, ok := extractObject(text)
	if !ok {
		return attention.OracleVerdict{}, fmt.Errorf("%w: no JSON object", ErrInvalidVerdict)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return attention.OracleVerdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}

	state, err := attention.ParseState(raw.State)
	if err != nil || state == attention.Unknown {
		return attention.OracleVerdict{}, fmt.Errorf("%w: state %q", ErrInvalidVerdict, raw.State)
	}

	conf := DefaultConfidence
	if raw.Confidence != nil {
		conf = clamp01(*raw.Confidence)
	}

	v := attention.OracleVerdict{
		State:      state,
		Reason:     strings.TrimSpace(raw.Reason),
		Confidence: conf,
	}
	if strings.TrimSpace(raw.Cause) != "" {
		v.Cause = attention.ParseCause(raw.Cause)
	}
	return v, nil
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) (string, bool) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
