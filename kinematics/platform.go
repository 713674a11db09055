package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

// collinearityEpsilon bounds the 2-D cross product magnitude below which three
// footholds are treated as collinear and unusable for platform kinematics.
const collinearityEpsilon = 1e-9

// ErrNoUsablePoseCombination is returned by SpiderPose when every three-leg
// combination of the given legs has collinear footholds.
var ErrNoUsablePoseCombination = errors.New("no non-collinear three-leg combination available")

// PlatformForwardKinematics estimates the body pose in the global frame from
// exactly three anchored legs: their global foothold positions and the
// corresponding leg tip transforms in the body frame. The wall-plane normal is
// averaged over the three redundant cross products of the tip-to-tip vectors,
// each sign-corrected to point out of the wall.
func PlatformForwardKinematics(
	sp *spider.Spider,
	legIDs []int,
	footholds []r3.Vector,
	tipPoses []*spatialmath.Transform,
) (spatialmath.Pose, error) {
	if len(legIDs) != 3 || len(footholds) != 3 || len(tipPoses) != 3 {
		return spatialmath.Pose{}, errors.Errorf(
			"platform forward kinematics needs exactly three legs, got %d", len(legIDs))
	}

	t1 := tipPoses[0].Translation()
	t2 := tipPoses[1].Translation()
	t3 := tipPoses[2].Translation()

	l12 := t2.Sub(t1)
	l13 := t3.Sub(t1)
	l23 := t3.Sub(t2)

	normal := outwardCross(l12, l13).
		Add(outwardCross(l12, l23)).
		Add(outwardCross(l13.Mul(-1), l23.Mul(-1))).
		Mul(1.0 / 3.0)
	if normal.Norm() < collinearityEpsilon {
		return spatialmath.Pose{}, errors.New("leg tips are collinear, wall plane is undefined")
	}

	ez := normal.Normalize()
	ex := l12.Normalize()
	ey := ez.Cross(ex)
	plane := mat.NewDense(3, 3, []float64{
		ex.X, ex.Y, ex.Z,
		ey.X, ey.Y, ey.Z,
		ez.X, ez.Y, ez.Z,
	})

	// Align the plane basis with the global frame using the projection of
	// the first-to-second foothold vector onto the wall.
	p12 := footholds[1].Sub(footholds[0])
	phi, err := spatialmath.SignedAngleBetween(r2.Point{X: p12.X, Y: p12.Y}, r2.Point{X: 1, Y: 0})
	if err != nil {
		return spatialmath.Pose{}, errors.Wrap(err, "first two footholds overlap in the wall plane")
	}

	// Body-to-global rotation.
	var rotation mat.Dense
	rotation.Mul(spatialmath.NewRotationZ(phi).RotationMatrix().T(), plane)

	// Body position implied by each leg, averaged.
	var sum r3.Vector
	for i := range tipPoses {
		sum = sum.Add(footholds[i].Sub(rotatePoint(&rotation, tipPoses[i].Translation())))
	}
	bodyInGlobal := spatialmath.NewTransform(&rotation, sum.Mul(1.0/3.0))

	return spatialmath.PoseFromTransform(bodyInGlobal), nil
}

// outwardCross returns a x b with the sign flipped when the product points
// into the wall (negative z).
func outwardCross(a, b r3.Vector) r3.Vector {
	c := a.Cross(b)
	if c.Z < 0 {
		return b.Cross(a)
	}
	return c
}

func rotatePoint(rotation *mat.Dense, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: rotation.At(0, 0)*p.X + rotation.At(0, 1)*p.Y + rotation.At(0, 2)*p.Z,
		Y: rotation.At(1, 0)*p.X + rotation.At(1, 1)*p.Y + rotation.At(1, 2)*p.Z,
		Z: rotation.At(2, 0)*p.X + rotation.At(2, 1)*p.Y + rotation.At(2, 2)*p.Z,
	}
}

// PlatformInverseKinematics computes joint angles for all legs so that their
// tips stay on the given global footholds while the body takes the goal pose.
func PlatformInverseKinematics(
	sp *spider.Spider,
	goal spatialmath.Pose,
	footholds [spider.NumLegs]r3.Vector,
) ([spider.NumLegs]JointAngles, error) {
	var out [spider.NumLegs]JointAngles
	bodyTransform := goal.Transform()
	for leg := 0; leg < spider.NumLegs; leg++ {
		anchorInGlobal := bodyTransform.Compose(sp.Anchors[leg])
		local := anchorInGlobal.Inverse().TransformPoint(footholds[leg])
		q, err := LegInverseKinematics(sp.Legs, local)
		if err != nil {
			return out, errors.Wrapf(err, "leg %d", leg)
		}
		out[leg] = q
	}
	return out, nil
}

// SpiderPose estimates the body pose from at least three anchored legs by
// averaging the platform forward kinematics over every combination of three
// of them. Combinations with collinear footholds are skipped, so a single
// badly placed leg does not poison the estimate.
func SpiderPose(
	sp *spider.Spider,
	legIDs []int,
	footholds []r3.Vector,
	allQ [spider.NumLegs]JointAngles,
) (spatialmath.Pose, error) {
	if len(legIDs) < 3 {
		return spatialmath.Pose{}, errors.Errorf("need at least three legs, got %d", len(legIDs))
	}
	if len(legIDs) != len(footholds) {
		return spatialmath.Pose{}, errors.Errorf(
			"legIDs and footholds length mismatch: %d vs %d", len(legIDs), len(footholds))
	}

	var sum [6]float64
	used := 0
	for i := 0; i < len(legIDs); i++ {
		for j := i + 1; j < len(legIDs); j++ {
			for k := j + 1; k < len(legIDs); k++ {
				if collinear(footholds[i], footholds[j], footholds[k]) {
					continue
				}
				subset := []int{legIDs[i], legIDs[j], legIDs[k]}
				subsetFootholds := []r3.Vector{footholds[i], footholds[j], footholds[k]}
				tipPoses := []*spatialmath.Transform{
					BodyToLegTipForwardKinematics(sp, legIDs[i], allQ[legIDs[i]]),
					BodyToLegTipForwardKinematics(sp, legIDs[j], allQ[legIDs[j]]),
					BodyToLegTipForwardKinematics(sp, legIDs[k], allQ[legIDs[k]]),
				}
				pose, err := PlatformForwardKinematics(sp, subset, subsetFootholds, tipPoses)
				if err != nil {
					continue
				}
				arr := pose.Array()
				for n := range sum {
					sum[n] += arr[n]
				}
				used++
			}
		}
	}
	if used == 0 {
		return spatialmath.Pose{}, ErrNoUsablePoseCombination
	}
	for n := range sum {
		sum[n] /= float64(used)
	}
	return spatialmath.PoseFromArray(sum), nil
}

func collinear(p1, p2, p3 r3.Vector) bool {
	a := p2.Sub(p1)
	b := p3.Sub(p1)
	return math.Abs(a.X*b.Y-a.Y*b.X) < collinearityEpsilon
}
