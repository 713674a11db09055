// Package kinematics implements forward and inverse kinematics for single
// legs, the body-leg chain and the parallel platform formed by anchored legs.
package kinematics

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

// JointAngles are the three joint values of one leg in radians.
type JointAngles [spider.MotorsPerLeg]float64

// ErrOutOfReach is returned by inverse kinematics when the target lies
// outside the leg's workspace.
var ErrOutOfReach = errors.New("target position out of leg reach")

// LegForwardKinematics returns the transform from the leg base to the leg tip.
func LegForwardKinematics(dims spider.LegDimensions, q JointAngles) *spatialmath.Transform {
	q1, q2, q3 := q[0], q[1], q[2]
	l1, l2, l3 := dims.L1, dims.L2, dims.L3

	reach := l1 + l2*math.Cos(q2) + l3*math.Cos(q2+q3)
	m := mat.NewDense(4, 4, []float64{
		math.Cos(q1) * math.Cos(q2+q3), -math.Cos(q1) * math.Sin(q2+q3), math.Sin(q1), math.Cos(q1) * reach,
		math.Cos(q2+q3) * math.Sin(q1), -math.Sin(q1) * math.Sin(q2+q3), -math.Cos(q1), math.Sin(q1) * reach,
		math.Sin(q2 + q3), math.Cos(q2 + q3), 0, l2*math.Sin(q2) + l3*math.Sin(q2+q3),
		0, 0, 0, 1,
	})
	return spatialmath.NewTransformFromDense(m)
}

// LegBaseToThirdJointForwardKinematics returns the transform from the leg base
// to the third joint (two-link chain).
func LegBaseToThirdJointForwardKinematics(dims spider.LegDimensions, q JointAngles) *spatialmath.Transform {
	q1, q2 := q[0], q[1]
	l1, l2 := dims.L1, dims.L2

	reach := l1 + l2*math.Cos(q2)
	m := mat.NewDense(4, 4, []float64{
		math.Cos(q1) * math.Cos(q2), -math.Cos(q1) * math.Sin(q2), math.Sin(q1), math.Cos(q1) * reach,
		math.Cos(q2) * math.Sin(q1), -math.Sin(q1) * math.Sin(q2), -math.Cos(q1), math.Sin(q1) * reach,
		math.Sin(q2), math.Cos(q2), 0, l2 * math.Sin(q2),
		0, 0, 0, 1,
	})
	return spatialmath.NewTransformFromDense(m)
}

// acosRoundDecimals absorbs floating round-off at the acos domain boundary:
// the cosine is rounded to this many decimals before the domain check.
const acosRoundDecimals = 4

// LegInverseKinematics solves the closed-form inverse kinematics of one leg
// for a tip position given in the leg-base frame. The returned solution is
// always the elbow-down branch (q3 <= 0); for targets behind the first joint
// (x < 0) the first joint stays on the leg's upper workspace half by flipping
// the atan2 arguments instead of jumping to the mirrored branch.
func LegInverseKinematics(dims spider.LegDimensions, tip r3.Vector) (JointAngles, error) {
	l1, l2, l3 := dims.L1, dims.L2, dims.L3

	q1 := math.Atan2(tip.Y, tip.X)
	if tip.X < 0 {
		q1 = math.Atan2(-tip.Y, -tip.X)
	}

	secondJoint := r3.Vector{X: l1 * math.Cos(q1), Y: l1 * math.Sin(q1)}
	w := tip.Sub(secondJoint)
	r := w.Norm()

	cosine := (r*r - l2*l2 - l3*l3) / (2 * l2 * l3)
	cosine = math.Round(cosine*math.Pow10(acosRoundDecimals)) / math.Pow10(acosRoundDecimals)
	if cosine > 1 || cosine < -1 {
		return JointAngles{}, errors.Wrapf(ErrOutOfReach, "tip %v", tip)
	}
	q3 := -math.Acos(cosine)

	alpha := math.Abs(math.Atan2(l3*math.Sin(q3), l2+l3*math.Cos(q3)))
	xy := math.Hypot(w.X, w.Y)
	if tip.X < secondJoint.X {
		// Lower workspace: the tip is behind the second joint.
		xy = -xy
	}
	q2 := alpha + math.Atan2(w.Z, xy)

	return JointAngles{q1, q2, q3}, nil
}

// LegJacobian returns the analytic 3x3 Jacobian of the leg tip position with
// respect to the joint angles, in the leg-base frame.
func LegJacobian(dims spider.LegDimensions, q JointAngles) *mat.Dense {
	q1, q2, q3 := q[0], q[1], q[2]
	l1, l2, l3 := dims.L1, dims.L2, dims.L3

	reach := l1 + l2*math.Cos(q2) + l3*math.Cos(q2+q3)
	drop := l2*math.Sin(q2) + l3*math.Sin(q2+q3)
	return mat.NewDense(3, 3, []float64{
		-reach * math.Sin(q1), -math.Cos(q1) * drop, -l3 * math.Cos(q1) * math.Sin(q2+q3),
		reach * math.Cos(q1), -math.Sin(q1) * drop, -l3 * math.Sin(q1) * math.Sin(q2+q3),
		0, l2*math.Cos(q2) + l3*math.Cos(q2+q3), l3 * math.Cos(q2+q3),
	})
}

// BodyToLegTipForwardKinematics returns the transform from the body origin to
// the tip of the given leg.
func BodyToLegTipForwardKinematics(sp *spider.Spider, legID int, q JointAngles) *spatialmath.Transform {
	qb := spider.AnchorAngle(legID)
	q1, q2, q3 := q[0], q[1], q[2]
	r := sp.BodyRadius
	l1, l2, l3 := sp.Legs.L1, sp.Legs.L2, sp.Legs.L3

	reach := l1 + l2*math.Cos(q2) + l3*math.Cos(q2+q3)
	m := mat.NewDense(4, 4, []float64{
		math.Cos(q2+q3) * math.Cos(q1+qb), -math.Cos(q1+qb) * math.Sin(q2+q3), math.Sin(q1 + qb), r*math.Cos(qb) + reach*math.Cos(q1+qb),
		math.Cos(q2+q3) * math.Sin(q1+qb), -math.Sin(q2+q3) * math.Sin(q1+qb), -math.Cos(q1 + qb), r*math.Sin(qb) + reach*math.Sin(q1+qb),
		math.Sin(q2 + q3), math.Cos(q2 + q3), 0, l2*math.Sin(q2) + l3*math.Sin(q2+q3),
		0, 0, 0, 1,
	})
	return spatialmath.NewTransformFromDense(m)
}

// BodyToLegTipJacobian returns the 3x3 Jacobian of the leg tip position in the
// body frame with respect to the joint angles.
func BodyToLegTipJacobian(sp *spider.Spider, legID int, q JointAngles) *mat.Dense {
	qb := spider.AnchorAngle(legID)
	q1, q2, q3 := q[0], q[1], q[2]
	l1, l2, l3 := sp.Legs.L1, sp.Legs.L2, sp.Legs.L3

	reach := l1 + l2*math.Cos(q2) + l3*math.Cos(q2+q3)
	drop := l2*math.Sin(q2) + l3*math.Sin(q2+q3)
	return mat.NewDense(3, 3, []float64{
		-reach * math.Sin(q1+qb), -math.Cos(q1+qb) * drop, -l3 * math.Cos(q1+qb) * math.Sin(q2+q3),
		reach * math.Cos(q1+qb), -drop * math.Sin(q1+qb), -l3 * math.Sin(q2+q3) * math.Sin(q1+qb),
		0, l2*math.Cos(q2) + l3*math.Cos(q2+q3), l3 * math.Cos(q2+q3),
	})
}

// BodyToLegTipPositions returns all leg tip positions in the body frame.
func BodyToLegTipPositions(sp *spider.Spider, all [spider.NumLegs]JointAngles) [spider.NumLegs]r3.Vector {
	var out [spider.NumLegs]r3.Vector
	for leg := 0; leg < spider.NumLegs; leg++ {
		out[leg] = BodyToLegTipForwardKinematics(sp, leg, all[leg]).Translation()
	}
	return out
}
