package kinematics

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

func TestLegInLocalRoundTrip(t *testing.T) {
	sp := testSpider(t)
	pose := spatialmath.NewPose4(0.3, 0.6, 0.2, 0.4)
	local := r3.Vector{X: 0.3, Y: 0.05, Z: -0.18}

	for leg := 0; leg < spider.NumLegs; leg++ {
		globals, err := LegsInGlobal(sp, []int{leg}, []r3.Vector{local}, pose)
		test.That(t, err, test.ShouldBeNil)
		back := LegInLocal(sp, leg, globals[0], pose)
		test.That(t, back.X, test.ShouldAlmostEqual, local.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, local.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, local.Z, 1e-9)
	}
}

func TestLegsInGlobalLengthMismatch(t *testing.T) {
	sp := testSpider(t)
	_, err := LegsInGlobal(sp, []int{0, 1}, make([]r3.Vector, 1), spatialmath.NewPose4(0, 0, 0.2, 0))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestApproachPositionsInGlobal(t *testing.T) {
	sp := testSpider(t)
	pose := spatialmath.NewPose4(0, 0, 0.2, 0)
	pins := []r3.Vector{{X: 0.05, Y: 0.45, Z: 0}}

	approach, err := ApproachPositionsInGlobal(sp, []int{0}, pose, pins, DefaultApproachOffset)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, approach, test.ShouldHaveLength, 1)
	// The approach point retreats from the pin along the third link by the
	// requested offset.
	test.That(t, approach[0].Sub(pins[0]).Norm(), test.ShouldAlmostEqual, DefaultApproachOffset, 1e-6)
}

func TestApproachPositionsLengthMismatch(t *testing.T) {
	sp := testSpider(t)
	_, err := ApproachPositionsInGlobal(sp, []int{0, 1}, spatialmath.NewPose4(0, 0, 0.2, 0), make([]r3.Vector, 1), 0.03)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBodyToLegReferenceVelocities(t *testing.T) {
	sp := testSpider(t)

	// Pure linear body velocity along +x: leg 0's anchor frame is rotated
	// +90° about z, so the reference tip velocity is (0, 1, 0).
	out := BodyToLegReferenceVelocities(sp, [6]float64{1, 0, 0, 0, 0, 0})
	test.That(t, out[0].X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, out[0].Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, out[0].Z, test.ShouldAlmostEqual, 0, 1e-12)

	// Pure yaw rate: every leg sees the same tangential speed.
	out = BodyToLegReferenceVelocities(sp, [6]float64{0, 0, 0, 0, 0, 2})
	for leg := 0; leg < spider.NumLegs; leg++ {
		test.That(t, out[leg].Y, test.ShouldAlmostEqual, -2*sp.BodyRadius, 1e-12)
	}
}
