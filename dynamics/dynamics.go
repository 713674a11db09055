// Package dynamics estimates leg tip forces from actuator currents and sizes
// the force-manipulability ellipsoid of a leg configuration.
package dynamics

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

// Joint torque from motor current, empirically fit on the XM430 units:
// τ = c0 + c1·i + c2·i².
const (
	currentToTorqueC0 = 0.0
	currentToTorqueC1 = 1.8317
	currentToTorqueC2 = -0.0213
)

// TorqueFromCurrent converts a single joint current in amps to torque in Nm
// using the calibration polynomial. The sign of the current is preserved.
func TorqueFromCurrent(current float64) float64 {
	magnitude := math.Abs(current)
	torque := currentToTorqueC0 + currentToTorqueC1*magnitude + currentToTorqueC2*magnitude*magnitude
	return math.Copysign(torque, current)
}

// ForcesOnLegTips estimates the force each leg tip exerts, expressed in the
// body frame, by solving Jᵀ·f = τ per leg with the body-frame Jacobian.
func ForcesOnLegTips(
	sp *spider.Spider,
	allQ [spider.NumLegs]kinematics.JointAngles,
	allCurrents [spider.NumLegs][spider.MotorsPerLeg]float64,
) ([spider.NumLegs]r3.Vector, error) {
	var out [spider.NumLegs]r3.Vector
	for leg := 0; leg < spider.NumLegs; leg++ {
		torques := mat.NewVecDense(3, nil)
		for j := 0; j < spider.MotorsPerLeg; j++ {
			torques.SetVec(j, TorqueFromCurrent(allCurrents[leg][j]))
		}

		jacobian := kinematics.BodyToLegTipJacobian(sp, leg, allQ[leg])
		var jt mat.Dense
		jt.CloneFrom(jacobian.T())

		var force mat.VecDense
		if err := force.SolveVec(&jt, torques); err != nil {
			return out, errors.Wrapf(err, "singular Jacobian for leg %d", leg)
		}
		out[leg] = r3.Vector{X: force.AtVec(0), Y: force.AtVec(1), Z: force.AtVec(2)}
	}
	return out, nil
}

// ForceEllipsoidLengthInDirection returns the radius of the leg's force
// manipulability ellipsoid along the given direction. The ellipsoid is the
// eigendecomposition of (J·Jᵀ)⁻¹; its radius along a unit direction d is
// 1/sqrt(Σ (d·vᵢ)²/λᵢ).
func ForceEllipsoidLengthInDirection(
	sp *spider.Spider,
	legID int,
	q kinematics.JointAngles,
	direction r3.Vector,
) (float64, error) {
	if direction.Norm() == 0 {
		return 0, errors.New("direction must be a non-zero vector")
	}
	d := direction.Normalize()

	jacobian := kinematics.BodyToLegTipJacobian(sp, legID, q)
	var jjt mat.Dense
	jjt.Mul(jacobian, jacobian.T())

	var inv mat.Dense
	if err := inv.Inverse(&jjt); err != nil {
		return 0, errors.Wrapf(err, "singular Jacobian for leg %d", legID)
	}

	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, (inv.At(i, j)+inv.At(j, i))/2)
		}
	}
	var eigen mat.EigenSym
	if !eigen.Factorize(sym, true) {
		return 0, errors.Errorf("eigendecomposition failed for leg %d", legID)
	}
	values := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	sum := 0.0
	for i := 0; i < 3; i++ {
		proj := d.X*vectors.At(0, i) + d.Y*vectors.At(1, i) + d.Z*vectors.At(2, i)
		sum += proj * proj / values[i]
	}
	if sum <= 0 {
		return 0, errors.Errorf("degenerate force ellipsoid for leg %d", legID)
	}
	return 1 / math.Sqrt(sum), nil
}
