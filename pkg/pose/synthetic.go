package pose

import "math"

// Synthetic builds a face mesh whose estimated pose is (yaw, pitch) with zero
// roll. The simulator and tests use it in place of a real face-mesh model.
// Pitch is limited to ±89°.
func Synthetic(yaw, pitch float64, eyesOpen bool) []Point {
	points := make([]Point, MinLandmarks)
	for i := range points {
		points[i] = Point{X: 0.5, Y: 0.5}
	}

	points[LeftEyeOuter] = Point{X: 0.40, Y: 0.40}
	points[LeftEyeInner] = Point{X: 0.45, Y: 0.40}
	points[RightEyeInner] = Point{X: 0.55, Y: 0.40}
	points[RightEyeOuter] = Point{X: 0.60, Y: 0.40}

	// Lid gap as a fraction of eye width (0.05)
	gap := 0.015
	if !eyesOpen {
		gap = 0.0025
	}
	points[LeftEyeTop] = Point{X: 0.425, Y: 0.40 - gap/2}
	points[LeftEyeBottom] = Point{X: 0.425, Y: 0.40 + gap/2}
	points[RightEyeTop] = Point{X: 0.575, Y: 0.40 - gap/2}
	points[RightEyeBottom] = Point{X: 0.575, Y: 0.40 + gap/2}

	points[MouthLeft] = Point{X: 0.46, Y: 0.60}
	points[MouthRight] = Point{X: 0.54, Y: 0.60}

	// Nose depth equals eye depth, so only the mouth term carries yaw
	eyeSpan := 0.10
	noseX := 0.5 + (yaw/MouthYawWeight)/MouthYawScale*eyeSpan
	points[NoseTip] = Point{X: noseX, Y: 0.50}

	pitch = clamp(pitch, -89, 89)
	dy := 0.06
	dz := dy * math.Tan(pitch*math.Pi/180)
	points[NoseBridge] = Point{X: 0.5, Y: 0.50 - dy, Z: -dz}

	return points
}
