package dynamics

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

func testSpider(t *testing.T) *spider.Spider {
	t.Helper()
	sp, err := spider.New(spider.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	return sp
}

func TestTorqueFromCurrent(t *testing.T) {
	test.That(t, TorqueFromCurrent(0), test.ShouldAlmostEqual, 0)
	test.That(t, TorqueFromCurrent(1), test.ShouldAlmostEqual, 1.8104)
	test.That(t, TorqueFromCurrent(-1), test.ShouldAlmostEqual, -1.8104)
	// Monotone over the actuator's current range.
	test.That(t, TorqueFromCurrent(2), test.ShouldBeGreaterThan, TorqueFromCurrent(1))
}

func TestForcesOnLegTipsConsistentWithJacobian(t *testing.T) {
	sp := testSpider(t)
	var allQ [spider.NumLegs]kinematics.JointAngles
	var currents [spider.NumLegs][spider.MotorsPerLeg]float64
	for leg := range allQ {
		allQ[leg] = kinematics.JointAngles{0.1, 0.3, -1.2}
		currents[leg] = [spider.MotorsPerLeg]float64{0.5, -0.8, 0.3}
	}

	forces, err := ForcesOnLegTips(sp, allQ, currents)
	test.That(t, err, test.ShouldBeNil)

	// Mapping the solved force back through Jᵀ must reproduce the torques.
	for leg := 0; leg < spider.NumLegs; leg++ {
		jacobian := kinematics.BodyToLegTipJacobian(sp, leg, allQ[leg])
		f := forces[leg]
		for j := 0; j < spider.MotorsPerLeg; j++ {
			back := jacobian.At(0, j)*f.X + jacobian.At(1, j)*f.Y + jacobian.At(2, j)*f.Z
			test.That(t, back, test.ShouldAlmostEqual, TorqueFromCurrent(currents[leg][j]), 1e-9)
		}
	}
}

func TestForceEllipsoidRadiusAlongEigenvectors(t *testing.T) {
	sp := testSpider(t)
	q := kinematics.JointAngles{0.2, 0.4, -1.3}

	jacobian := kinematics.BodyToLegTipJacobian(sp, 0, q)
	var jjt mat.Dense
	jjt.Mul(jacobian, jacobian.T())
	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, (jjt.At(i, j)+jjt.At(j, i))/2)
		}
	}
	var eigen mat.EigenSym
	test.That(t, eigen.Factorize(sym, true), test.ShouldBeTrue)
	values := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	// Along an eigenvector of J·Jᵀ with eigenvalue μ the ellipsoid radius
	// is 1/sqrt(μ).
	for i := 0; i < 3; i++ {
		direction := r3.Vector{X: vectors.At(0, i), Y: vectors.At(1, i), Z: vectors.At(2, i)}
		radius, err := ForceEllipsoidLengthInDirection(sp, 0, q, direction)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, radius, test.ShouldAlmostEqual, 1/math.Sqrt(values[i]), 1e-9)
	}
}

func TestForceEllipsoidZeroDirection(t *testing.T) {
	sp := testSpider(t)
	_, err := ForceEllipsoidLengthInDirection(sp, 0, kinematics.JointAngles{0, 0.3, -1.2}, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGravityTorquesMatchPotentialGradient(t *testing.T) {
	sp := testSpider(t)
	gravity := r3.Vector{Y: -9.81}
	const h = 1e-6

	for _, legID := range []int{0, 2, 4} {
		q := kinematics.JointAngles{0.15, 0.35, -1.25}
		torques := GravityTorques(sp, legID, q, gravity)

		gravityInLeg := sp.Anchors[legID].Inverse().RotatePoint(gravity)
		potential := func(q kinematics.JointAngles) float64 {
			cogDims := []spider.LegDimensions{
				{L1: sp.SegmentCOGOffsets[0]},
				{L1: sp.Legs.L1, L2: sp.SegmentCOGOffsets[1]},
				{L1: sp.Legs.L1, L2: sp.Legs.L2, L3: sp.SegmentCOGOffsets[2]},
			}
			u := 0.0
			for segment := 0; segment < spider.MotorsPerLeg; segment++ {
				cog := kinematics.LegForwardKinematics(cogDims[segment], q).Translation()
				u -= sp.SegmentMasses[legID][segment] * cog.Dot(gravityInLeg)
			}
			return u
		}

		// τ = -∂U/∂q.
		for joint := 0; joint < spider.MotorsPerLeg; joint++ {
			plus, minus := q, q
			plus[joint] += h
			minus[joint] -= h
			numeric := -(potential(plus) - potential(minus)) / (2 * h)
			test.That(t, torques[joint], test.ShouldAlmostEqual, numeric, 1e-5)
		}
	}
}
