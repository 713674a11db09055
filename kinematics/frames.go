package kinematics

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

// LegInLocal converts a global leg tip position into the leg-base frame for
// the given body pose.
func LegInLocal(sp *spider.Spider, legID int, globalPosition r3.Vector, bodyPose spatialmath.Pose) r3.Vector {
	anchorInGlobal := bodyPose.Transform().Compose(sp.Anchors[legID])
	return anchorInGlobal.Inverse().TransformPoint(globalPosition)
}

// LegsInGlobal converts leg-base frame tip positions into the global frame
// for the given body pose.
func LegsInGlobal(
	sp *spider.Spider,
	legIDs []int,
	localPositions []r3.Vector,
	bodyPose spatialmath.Pose,
) ([]r3.Vector, error) {
	if len(legIDs) != len(localPositions) {
		return nil, errors.Errorf(
			"legIDs and localPositions length mismatch: %d vs %d", len(legIDs), len(localPositions))
	}
	bodyTransform := bodyPose.Transform()
	out := make([]r3.Vector, len(legIDs))
	for i, leg := range legIDs {
		out[i] = bodyTransform.Compose(sp.Anchors[leg]).TransformPoint(localPositions[i])
	}
	return out, nil
}

// DefaultApproachOffset is the distance short of a pin at which a leg is
// positioned before the final grip move, leaving room for the gripper jaw.
const DefaultApproachOffset = 0.03

// ApproachPositionsInGlobal computes, for each leg and target pin, the global
// approach point offset from the pin along the third link: inverse kinematics
// run with the third link lengthened by offset, forward kinematics with the
// true dimensions, so the tip lands short of the pin on the gripper axis.
func ApproachPositionsInGlobal(
	sp *spider.Spider,
	legIDs []int,
	bodyPose spatialmath.Pose,
	pins []r3.Vector,
	offset float64,
) ([]r3.Vector, error) {
	if len(legIDs) != len(pins) {
		return nil, errors.Errorf("legIDs and pins length mismatch: %d vs %d", len(legIDs), len(pins))
	}

	lengthened := sp.Legs
	lengthened.L3 += offset

	bodyTransform := bodyPose.Transform()
	out := make([]r3.Vector, len(legIDs))
	for i, leg := range legIDs {
		local := LegInLocal(sp, leg, pins[i], bodyPose)
		q, err := LegInverseKinematics(lengthened, local)
		if err != nil {
			return nil, errors.Wrapf(err, "approach position for leg %d", leg)
		}
		approachLocal := LegForwardKinematics(sp.Legs, q).Translation()
		out[i] = bodyTransform.Compose(sp.Anchors[leg]).TransformPoint(approachLocal)
	}
	return out, nil
}

// BodyToLegReferenceVelocities maps a body twist [vx vy vz wx wy wz] to the
// reference tip velocity of each leg in its anchor frame. Tips must move
// opposite to the body for the body to move as commanded, hence the negation.
func BodyToLegReferenceVelocities(sp *spider.Spider, bodyVelocity [6]float64) [spider.NumLegs]r3.Vector {
	linear := r3.Vector{X: bodyVelocity[0], Y: bodyVelocity[1], Z: bodyVelocity[2]}
	wx, wy, wz := bodyVelocity[3], bodyVelocity[4], bodyVelocity[5]

	var out [spider.NumLegs]r3.Vector
	for leg := 0; leg < spider.NumLegs; leg++ {
		anchorVelocity := sp.Anchors[leg].Inverse().RotatePoint(linear)
		anchor := sp.AnchorPositions[leg]
		out[leg] = r3.Vector{
			X: anchorVelocity.X,
			Y: anchorVelocity.Y + sp.BodyRadius*wz,
			Z: anchorVelocity.Z - anchor.X*wy + anchor.Y*wx,
		}.Mul(-1)
	}
	return out
}
