package pose

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEstimateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("synthetic pose round-trips through the estimator", prop.ForAll(
		func(yaw, pitch float64) bool {
			got, ok := Estimate(Synthetic(yaw, pitch, true))
			return ok &&
				math.Abs(got.Yaw-yaw) < 1e-6 &&
				math.Abs(got.Pitch-pitch) < 1e-6
		},
		gen.Float64Range(-89, 89),
		gen.Float64Range(-80, 80),
	))

	properties.Property("estimated angles stay within their ranges", prop.ForAll(
		func(noseX, noseZ, bridgeZ, eyeTilt float64) bool {
			points := Synthetic(0, 0, true)
			points[NoseTip].X = noseX
			points[NoseTip].Z = noseZ
			points[NoseBridge].Z = bridgeZ
			points[RightEyeInner].Y += eyeTilt

			got, ok := Estimate(points)
			if !ok {
				return true
			}
			return got.Yaw >= -90 && got.Yaw <= 90 &&
				got.Pitch >= -90 && got.Pitch <= 90 &&
				got.Roll >= -180 && got.Roll <= 180
		},
		gen.Float64Range(-5, 5),
		gen.Float64Range(-5, 5),
		gen.Float64Range(-5, 5),
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}
