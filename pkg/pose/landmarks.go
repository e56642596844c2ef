// Package pose estimates head orientation and eye state from face-mesh landmarks.
//
// Input is the 468-point face mesh in normalized image coordinates
// (x right, y down, z toward the camera is negative). Estimation never fails
// loudly: short or malformed input yields "no pose" and eyes are assumed open.
package pose

import "math"

// MinLandmarks is the smallest mesh the estimator accepts.
const MinLandmarks = 468

// Face mesh indices used by the estimator.
const (
	NoseTip    = 1
	NoseBridge = 6

	LeftEyeInner  = 133
	LeftEyeOuter  = 33
	LeftEyeTop    = 159
	LeftEyeBottom = 145

	RightEyeInner  = 362
	RightEyeOuter  = 263
	RightEyeTop    = 386
	RightEyeBottom = 374

	MouthLeft  = 61
	MouthRight = 291
)

// Point is one landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

// dist2D is the distance in the image plane.
func dist2D(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// usable reports whether every index is present and finite.
func usable(points []Point, indices ...int) bool {
	if len(points) < MinLandmarks {
		return false
	}
	for _, i := range indices {
		if i >= len(points) || !points[i].finite() {
			return false
		}
	}
	return true
}
