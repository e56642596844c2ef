package attention

import (
	"fmt"
	"math"
)

// Thresholds tunes the classifier. All angles are degrees.
type Thresholds struct {
	// Pose
	YawDistracted        float64 // |yaw| above this is distracted
	YawFullConfidence    float64 // |yaw| at which confidence reaches 1
	PitchDistracted      float64
	PitchFullConfidence  float64
	EyesClosedConfidence float64

	// Local detection
	MinLocalConfidence float64 // below this the local signal is unusable

	// Oracle overrides
	NoFaceOracleMin    float64 // oracle confidence needed to rescue a frame with no face
	NoFaceOracleScale  float64
	LowConfOracleMin   float64 // oracle confidence needed when local confidence is low
	LowConfOracleScale float64
	NoPoseOracleScale  float64

	// Fusion
	WinnerWeight float64 // weight of the winning side when sources disagree
}

// DefaultThresholds returns the production classifier tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		YawDistracted:        25,
		YawFullConfidence:    45,
		PitchDistracted:      20,
		PitchFullConfidence:  40,
		EyesClosedConfidence: 0.6,

		MinLocalConfidence: 0.5,

		NoFaceOracleMin:    0.8,
		NoFaceOracleScale:  0.7,
		LowConfOracleMin:   0.7,
		LowConfOracleScale: 0.8,
		NoPoseOracleScale:  0.9,

		WinnerWeight: 0.7,
	}
}

// Classifier fuses local pose signals with an optional oracle verdict.
// It holds no state; the zero value is not usable, use NewClassifier.
type Classifier struct {
	t Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) Classifier {
	return Classifier{t: t}
}

// Classify runs the default classifier.
func Classify(in Input) Result {
	return NewClassifier(DefaultThresholds()).Classify(in)
}

// Classify returns one verdict for in. The first matching rule wins:
// no face, low local confidence, no pose, then pose thresholds fused with
// the oracle when one is present.
func (c Classifier) Classify(in Input) Result {
	oracle := normalizeOracle(in.Oracle)
	localConf := clamp01(in.Confidence)

	if !in.FaceDetected {
		if oracle != nil && oracle.Confidence > c.t.NoFaceOracleMin && oracle.State == Focused {
			return finish(adoptOracle(oracle, c.t.NoFaceOracleScale, "no face detected locally"))
		}
		return finish(Result{
			State:      Idle,
			Confidence: 1,
			Reason:     "no face detected",
			Cause:      CauseAwayFromDesk,
			Source:     SourceLocal,
		})
	}

	if localConf < c.t.MinLocalConfidence {
		if oracle != nil && oracle.Confidence > c.t.LowConfOracleMin {
			return finish(adoptOracle(oracle, c.t.LowConfOracleScale,
				fmt.Sprintf("low local confidence %.2f", localConf)))
		}
		return finish(Result{
			State:      Unknown,
			Confidence: localConf,
			Reason:     fmt.Sprintf("low detection confidence (%.2f)", localConf),
			Source:     SourceLocal,
		})
	}

	if in.HeadPose == nil {
		if oracle != nil {
			return finish(adoptOracle(oracle, c.t.NoPoseOracleScale, "head pose unavailable"))
		}
		return finish(Result{
			State:      Unknown,
			Confidence: localConf,
			Reason:     "head pose unavailable",
			Source:     SourceLocal,
		})
	}

	local := c.fromPose(in, localConf)
	if oracle == nil {
		return finish(local)
	}
	return finish(c.fuse(local, oracle))
}

// fromPose applies the pose thresholds.
func (c Classifier) fromPose(in Input, localConf float64) Result {
	yaw, pitch := in.HeadPose.Yaw, in.HeadPose.Pitch

	if math.Abs(yaw) > c.t.YawDistracted {
		direction := "right"
		if yaw < 0 {
			direction = "left"
		}
		return Result{
			State:      Distracted,
			Confidence: math.Min(1, math.Abs(yaw)/c.t.YawFullConfidence),
			Reason:     fmt.Sprintf("looking %s (%.0f°)", direction, math.Abs(yaw)),
			Cause:      CauseLookingAway,
			Source:     SourceLocal,
		}
	}

	if math.Abs(pitch) > c.t.PitchDistracted {
		direction := "down"
		if pitch < 0 {
			direction = "up"
		}
		return Result{
			State:      Distracted,
			Confidence: math.Min(1, math.Abs(pitch)/c.t.PitchFullConfidence),
			Reason:     fmt.Sprintf("looking %s (%.0f°)", direction, math.Abs(pitch)),
			Cause:      CauseLookingAway,
			Source:     SourceLocal,
		}
	}

	if !in.EyesOpen {
		return Result{
			State:      Distracted,
			Confidence: c.t.EyesClosedConfidence,
			Reason:     "eyes closed",
			Cause:      CauseEyesClosed,
			Source:     SourceLocal,
		}
	}

	return Result{
		State:      Focused,
		Confidence: localConf,
		Reason:     fmt.Sprintf("facing screen (yaw %.0f°, pitch %.0f°)", yaw, pitch),
		Source:     SourceLocal,
	}
}

// fuse merges a local verdict with an oracle verdict. Disagreements are
// always visible in the reason.
func (c Classifier) fuse(local Result, oracle *OracleVerdict) Result {
	if local.State == oracle.State {
		cause := local.Cause
		if oracle.Cause.specificity() > cause.specificity() {
			cause = oracle.Cause
		}
		return Result{
			State:      local.State,
			Confidence: (local.Confidence + oracle.Confidence) / 2,
			Reason:     fmt.Sprintf("%s; oracle agrees: %s", local.Reason, oracle.Reason),
			Cause:      cause,
			Source:     SourceFused,
		}
	}

	w, l := c.t.WinnerWeight, 1-c.t.WinnerWeight

	// Ties go to the local signal
	if local.Confidence >= oracle.Confidence {
		return Result{
			State:      local.State,
			Confidence: local.Confidence*w + oracle.Confidence*l,
			Reason: fmt.Sprintf("local wins: %s (oracle said %s: %s)",
				local.Reason, oracle.State, oracle.Reason),
			Cause:  local.Cause,
			Source: SourceFused,
		}
	}

	return Result{
		State:      oracle.State,
		Confidence: oracle.Confidence*w + local.Confidence*l,
		Reason: fmt.Sprintf("oracle wins: %s (local said %s: %s)",
			oracle.Reason, local.State, local.Reason),
		Cause:  oracle.Cause,
		Source: SourceFused,
	}
}

// adoptOracle takes the oracle verdict with its confidence scaled.
func adoptOracle(oracle *OracleVerdict, scale float64, why string) Result {
	return Result{
		State:      oracle.State,
		Confidence: oracle.Confidence * scale,
		Reason:     fmt.Sprintf("oracle: %s (%s)", oracle.Reason, why),
		Cause:      oracle.Cause,
		Source:     SourceOracle,
	}
}

// normalizeOracle drops verdicts the classifier cannot use and clamps confidence.
func normalizeOracle(v *OracleVerdict) *OracleVerdict {
	if v == nil {
		return nil
	}
	switch v.State {
	case Focused, Distracted, Idle:
	default:
		return nil
	}
	out := *v
	out.Confidence = clamp01(out.Confidence)
	return &out
}

// finish clamps confidence and makes Cause consistent with State.
func finish(r Result) Result {
	r.Confidence = clamp01(r.Confidence)
	switch r.State {
	case Distracted:
		if r.Cause == CauseNone {
			r.Cause = CauseGeneric
		}
	case Idle:
		if r.Cause == CauseNone {
			r.Cause = CauseAwayFromDesk
		}
	default:
		r.Cause = CauseNone
	}
	return r
}
