package pose

import "math"

// Estimator constants.
const (
	// DepthYawScale is the fixed denominator in atan2(dz, k) for the depth-based yaw.
	DepthYawScale = 0.1

	// MouthYawScale converts the nose-to-mouth offset, in inter-ocular
	// distances, to degrees.
	MouthYawScale = 120.0

	// DepthYawWeight and MouthYawWeight blend the two yaw estimates.
	DepthYawWeight = 0.3
	MouthYawWeight = 0.7

	// EyesOpenEAR is the average eye aspect ratio above which eyes count as open.
	EyesOpenEAR = 0.15
)

// HeadPose is head orientation in degrees.
// Yaw < 0 means the face is turned toward image left; pitch > 0 means tilted down.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Estimate computes a head pose from face-mesh landmarks.
// Returns false if the mesh is too short or the needed points are not finite.
func Estimate(points []Point) (HeadPose, bool) {
	if !usable(points, NoseTip, NoseBridge, LeftEyeInner, RightEyeInner, MouthLeft, MouthRight) {
		return HeadPose{}, false
	}

	nose := points[NoseTip]
	bridge := points[NoseBridge]
	leftInner := points[LeftEyeInner]
	rightInner := points[RightEyeInner]

	// Yaw, depth estimate: nose tip depth against the eye center
	eyeCenter := midpoint(leftInner, rightInner)
	depthYaw := degrees(math.Atan2(nose.Z-eyeCenter.Z, DepthYawScale))

	// Yaw, mouth estimate: horizontal nose offset from the mouth midpoint
	mouthMid := midpoint(points[MouthLeft], points[MouthRight])
	eyeSpan := dist2D(leftInner, rightInner)
	if eyeSpan < 1e-6 {
		return HeadPose{}, false
	}
	mouthYaw := (nose.X - mouthMid.X) / eyeSpan * MouthYawScale

	yaw := DepthYawWeight*depthYaw + MouthYawWeight*mouthYaw

	// Pitch from the nose tip to bridge vector
	pitch := degrees(math.Atan2(nose.Z-bridge.Z, nose.Y-bridge.Y))

	// Roll from the line through the inner eye corners
	roll := degrees(math.Atan2(rightInner.Y-leftInner.Y, rightInner.X-leftInner.X))

	return HeadPose{
		Yaw:   clamp(yaw, -90, 90),
		Pitch: clamp(pitch, -90, 90),
		Roll:  clamp(roll, -180, 180),
	}, true
}

// EyeAspectRatio returns the average of both eyes' vertical/horizontal ratio.
// Returns false if the eye landmarks are unusable.
func EyeAspectRatio(points []Point) (float64, bool) {
	if !usable(points,
		LeftEyeInner, LeftEyeOuter, LeftEyeTop, LeftEyeBottom,
		RightEyeInner, RightEyeOuter, RightEyeTop, RightEyeBottom) {
		return 0, false
	}

	left, ok := eyeRatio(points[LeftEyeTop], points[LeftEyeBottom], points[LeftEyeInner], points[LeftEyeOuter])
	if !ok {
		return 0, false
	}
	right, ok := eyeRatio(points[RightEyeTop], points[RightEyeBottom], points[RightEyeInner], points[RightEyeOuter])
	if !ok {
		return 0, false
	}
	return (left + right) / 2, true
}

func eyeRatio(top, bottom, inner, outer Point) (float64, bool) {
	width := dist2D(inner, outer)
	if width < 1e-6 {
		return 0, false
	}
	return dist2D(top, bottom) / width, true
}

// EyesOpen reports whether the eyes are open.
// Unusable landmarks count as open so a bad frame never raises an alarm.
func EyesOpen(points []Point) bool {
	ear, ok := EyeAspectRatio(points)
	if !ok {
		return true
	}
	return ear > EyesOpenEAR
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
