package dynamics

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

// GravityTorques returns the static torque gravity exerts on each joint of a
// leg, for a gravity vector given in the body frame. Each link's weight acts
// at its COG; the COG position Jacobians reuse the leg Jacobian with the link
// lengths truncated at the COG offset.
func GravityTorques(
	sp *spider.Spider,
	legID int,
	q kinematics.JointAngles,
	gravity r3.Vector,
) [spider.MotorsPerLeg]float64 {
	gravityInLeg := sp.Anchors[legID].Inverse().RotatePoint(gravity)

	d1 := sp.SegmentCOGOffsets[0]
	d2 := sp.SegmentCOGOffsets[1]
	d3 := sp.SegmentCOGOffsets[2]
	cogDims := []spider.LegDimensions{
		{L1: d1},
		{L1: sp.Legs.L1, L2: d2},
		{L1: sp.Legs.L1, L2: sp.Legs.L2, L3: d3},
	}

	var out [spider.MotorsPerLeg]float64
	for segment := 0; segment < spider.MotorsPerLeg; segment++ {
		jacobian := kinematics.LegJacobian(cogDims[segment], q)
		weight := gravityInLeg.Mul(sp.SegmentMasses[legID][segment])
		for joint := 0; joint < spider.MotorsPerLeg; joint++ {
			out[joint] += columnDot(jacobian, joint, weight)
		}
	}
	return out
}

func columnDot(m *mat.Dense, col int, v r3.Vector) float64 {
	return m.At(0, col)*v.X + m.At(1, col)*v.Y + m.At(2, col)*v.Z
}
