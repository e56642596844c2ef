package attention

import (
	"math"
	"strings"
	"testing"

	"github.com/teslashibe/go-attention/pkg/pose"
)

func headPose(yaw, pitch float64) *pose.HeadPose {
	return &pose.HeadPose{Yaw: yaw, Pitch: pitch}
}

func verdict(state State, confidence float64, reason string) *OracleVerdict {
	return &OracleVerdict{State: state, Confidence: confidence, Reason: reason}
}

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		wantState  State
		wantConf   float64
		wantCause  Cause
		wantSource Source
		wantReason string // substring
	}{
		{
			name:       "no face",
			in:         Input{FaceDetected: false},
			wantState:  Idle,
			wantConf:   1,
			wantCause:  CauseAwayFromDesk,
			wantSource: SourceLocal,
			wantReason: "no face detected",
		},
		{
			name:       "no face rescued by confident focused oracle",
			in:         Input{FaceDetected: false, Oracle: verdict(Focused, 0.9, "reading the screen")},
			wantState:  Focused,
			wantConf:   0.63,
			wantSource: SourceOracle,
			wantReason: "reading the screen",
		},
		{
			name:       "no face, oracle exactly at threshold is ignored",
			in:         Input{FaceDetected: false, Oracle: verdict(Focused, 0.8, "reading")},
			wantState:  Idle,
			wantConf:   1,
			wantCause:  CauseAwayFromDesk,
			wantSource: SourceLocal,
		},
		{
			name:       "no face, distracted oracle cannot rescue",
			in:         Input{FaceDetected: false, Oracle: verdict(Distracted, 0.95, "phone")},
			wantState:  Idle,
			wantConf:   1,
			wantCause:  CauseAwayFromDesk,
			wantSource: SourceLocal,
		},
		{
			name:       "low local confidence",
			in:         Input{FaceDetected: true, Confidence: 0.3, HeadPose: headPose(0, 0), EyesOpen: true},
			wantState:  Unknown,
			wantConf:   0.3,
			wantSource: SourceLocal,
			wantReason: "low detection confidence",
		},
		{
			name: "low local confidence adopts confident oracle",
			in: Input{FaceDetected: true, Confidence: 0.3, HeadPose: headPose(0, 0), EyesOpen: true,
				Oracle: verdict(Distracted, 0.75, "talking to someone")},
			wantState:  Distracted,
			wantConf:   0.6,
			wantCause:  CauseGeneric,
			wantSource: SourceOracle,
			wantReason: "talking to someone",
		},
		{
			name: "low local confidence, oracle at threshold ignored",
			in: Input{FaceDetected: true, Confidence: 0.3, HeadPose: headPose(0, 0), EyesOpen: true,
				Oracle: verdict(Distracted, 0.7, "talking")},
			wantState:  Unknown,
			wantConf:   0.3,
			wantSource: SourceLocal,
		},
		{
			name:       "no head pose",
			in:         Input{FaceDetected: true, Confidence: 0.9, EyesOpen: true},
			wantState:  Unknown,
			wantConf:   0.9,
			wantSource: SourceLocal,
			wantReason: "head pose unavailable",
		},
		{
			name:       "no head pose adopts any oracle",
			in:         Input{FaceDetected: true, Confidence: 0.9, EyesOpen: true, Oracle: verdict(Idle, 0.5, "chair empty")},
			wantState:  Idle,
			wantConf:   0.45,
			wantCause:  CauseAwayFromDesk,
			wantSource: SourceOracle,
		},
		{
			name:       "yaw left",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(-36, 0), EyesOpen: true},
			wantState:  Distracted,
			wantConf:   0.8,
			wantCause:  CauseLookingAway,
			wantSource: SourceLocal,
			wantReason: "looking left (36°)",
		},
		{
			name:       "yaw right saturates",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(80, 0), EyesOpen: true},
			wantState:  Distracted,
			wantConf:   1,
			wantCause:  CauseLookingAway,
			wantSource: SourceLocal,
			wantReason: "looking right (80°)",
		},
		{
			name:       "yaw at threshold is focused",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(25, 0), EyesOpen: true},
			wantState:  Focused,
			wantConf:   0.9,
			wantSource: SourceLocal,
		},
		{
			name:       "pitch down",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(0, 30), EyesOpen: true},
			wantState:  Distracted,
			wantConf:   0.75,
			wantCause:  CauseLookingAway,
			wantSource: SourceLocal,
			wantReason: "looking down (30°)",
		},
		{
			name:       "pitch up",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(10, -22), EyesOpen: true},
			wantState:  Distracted,
			wantConf:   0.55,
			wantCause:  CauseLookingAway,
			wantSource: SourceLocal,
			wantReason: "looking up (22°)",
		},
		{
			name:       "eyes closed",
			in:         Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(5, 5), EyesOpen: false},
			wantState:  Distracted,
			wantConf:   0.6,
			wantCause:  CauseEyesClosed,
			wantSource: SourceLocal,
			wantReason: "eyes closed",
		},
		{
			name:       "focused uses local confidence",
			in:         Input{FaceDetected: true, Confidence: 0.85, HeadPose: headPose(5, 5), EyesOpen: true},
			wantState:  Focused,
			wantConf:   0.85,
			wantSource: SourceLocal,
			wantReason: "facing screen",
		},
		{
			name: "oracle with unknown state is ignored",
			in: Input{FaceDetected: true, Confidence: 0.85, HeadPose: headPose(5, 5), EyesOpen: true,
				Oracle: verdict(Unknown, 1, "unsure")},
			wantState:  Focused,
			wantConf:   0.85,
			wantSource: SourceLocal,
		},
		{
			name:       "local confidence above one clamps",
			in:         Input{FaceDetected: true, Confidence: 3, HeadPose: headPose(0, 0), EyesOpen: true},
			wantState:  Focused,
			wantConf:   1,
			wantSource: SourceLocal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.State != tt.wantState {
				t.Errorf("state: got %v, want %v", got.State, tt.wantState)
			}
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence: got %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Cause != tt.wantCause {
				t.Errorf("cause: got %q, want %q", got.Cause, tt.wantCause)
			}
			if got.Source != tt.wantSource {
				t.Errorf("source: got %v, want %v", got.Source, tt.wantSource)
			}
			if !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("reason %q does not contain %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassify_FusionAgreement(t *testing.T) {
	oracle := &OracleVerdict{State: Distracted, Confidence: 0.6, Reason: "holding a phone", Cause: CausePhoneUse}
	got := Classify(Input{FaceDetected: true, Confidence: 0.9, HeadPose: headPose(0, 36), EyesOpen: true, Oracle: oracle})

	if got.State != Distracted {
		t.Fatalf("state: got %v, want distracted", got.State)
	}
	// local 0.9 (36/40), oracle 0.6
	if math.Abs(got.Confidence-0.75) > 1e-9 {
		t.Errorf("confidence: got %v, want 0.75", got.Confidence)
	}
	if got.Cause != CausePhoneUse {
		t.Errorf("cause: got %q, want the more specific phone_use", got.Cause)
	}
	if !strings.Contains(got.Reason, "looking down") || !strings.Contains(got.Reason, "holding a phone") {
		t.Errorf("reason should carry both explanations: %q", got.Reason)
	}
	if got.Source != SourceFused {
		t.Errorf("source: got %v, want fused", got.Source)
	}
}

func TestClassify_FusionDisagreement(t *testing.T) {
	t.Run("local wins", func(t *testing.T) {
		got := Classify(Input{
			FaceDetected: true, Confidence: 0.9, HeadPose: headPose(2, 3), EyesOpen: true,
			Oracle: verdict(Distracted, 0.6, "glancing at a second monitor"),
		})
		if got.State != Focused {
			t.Fatalf("state: got %v, want focused", got.State)
		}
		if math.Abs(got.Confidence-0.81) > 1e-9 {
			t.Errorf("confidence: got %v, want 0.81", got.Confidence)
		}
		if !strings.HasPrefix(got.Reason, "local wins:") ||
			!strings.Contains(got.Reason, "(oracle said distracted: glancing at a second monitor)") {
			t.Errorf("reason should name the winner and show the loser: %q", got.Reason)
		}
	})

	t.Run("oracle wins", func(t *testing.T) {
		oracle := &OracleVerdict{State: Distracted, Confidence: 0.95, Reason: "phone in hand", Cause: CausePhoneUse}
		got := Classify(Input{
			FaceDetected: true, Confidence: 0.55, HeadPose: headPose(2, 3), EyesOpen: true, Oracle: oracle,
		})
		if got.State != Distracted {
			t.Fatalf("state: got %v, want distracted", got.State)
		}
		if math.Abs(got.Confidence-0.83) > 1e-9 {
			t.Errorf("confidence: got %v, want 0.83", got.Confidence)
		}
		if got.Cause != CausePhoneUse {
			t.Errorf("cause: got %q, want phone_use", got.Cause)
		}
		if !strings.HasPrefix(got.Reason, "oracle wins: phone in hand") ||
			!strings.Contains(got.Reason, "(local said focused:") {
			t.Errorf("reason should name the winner and show the loser: %q", got.Reason)
		}
	})

	t.Run("tie goes to local", func(t *testing.T) {
		got := Classify(Input{
			FaceDetected: true, Confidence: 0.7, HeadPose: headPose(0, 0), EyesOpen: true,
			Oracle: verdict(Distracted, 0.7, "looking away"),
		})
		if got.State != Focused {
			t.Errorf("state: got %v, want focused", got.State)
		}
	})
}

func TestClassify_Deterministic(t *testing.T) {
	in := Input{FaceDetected: true, Confidence: 0.8, HeadPose: headPose(-30, 10), EyesOpen: true,
		Oracle: verdict(Focused, 0.9, "typing")}
	first := Classify(in)
	for i := 0; i < 10; i++ {
		if got := Classify(in); got != first {
			t.Fatalf("run %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []string{"focused", " Distracted ", "IDLE", "unknown"} {
		if _, err := ParseState(s); err != nil {
			t.Errorf("ParseState(%q): %v", s, err)
		}
	}
	if _, err := ParseState("sleepy"); err == nil {
		t.Error("ParseState should reject unknown names")
	}
}

func TestParseCause(t *testing.T) {
	if got := ParseCause("PHONE_USE"); got != CausePhoneUse {
		t.Errorf("got %q, want phone_use", got)
	}
	if got := ParseCause("daydreaming"); got != CauseGeneric {
		t.Errorf("got %q, want generic", got)
	}
	if got := ParseCause(""); got != CauseNone {
		t.Errorf("got %q, want none", got)
	}
}
