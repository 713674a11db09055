package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a 6-DOF body pose: position plus roll/pitch/yaw in radians. The
// rotation convention is Rx(roll)·Ry(pitch)·Rz(yaw).
type Pose struct {
	Position r3.Vector
	Roll     float64
	Pitch    float64
	Yaw      float64
}

// NewPose returns a full 6-DOF pose.
func NewPose(position r3.Vector, roll, pitch, yaw float64) Pose {
	return Pose{Position: position, Roll: roll, Pitch: pitch, Yaw: yaw}
}

// NewPose4 returns the reduced 4-DOF pose (position + yaw, roll = pitch = 0).
func NewPose4(x, y, z, yaw float64) Pose {
	return Pose{Position: r3.Vector{X: x, Y: y, Z: z}, Yaw: yaw}
}

// Transform builds the 4x4 homogeneous transform of the pose.
func (p Pose) Transform() *Transform {
	cr, sr := math.Cos(p.Roll), math.Sin(p.Roll)
	cp, sp := math.Cos(p.Pitch), math.Sin(p.Pitch)
	cy, sy := math.Cos(p.Yaw), math.Sin(p.Yaw)

	// Rx(roll)·Ry(pitch)·Rz(yaw), expanded.
	rot := mat.NewDense(3, 3, []float64{
		cp * cy, -cp * sy, sp,
		cr*sy + sr*sp*cy, cr*cy - sr*sp*sy, -sr * cp,
		sr*sy - cr*sp*cy, sr*cy + cr*sp*sy, cr * cp,
	})
	return NewTransform(rot, p.Position)
}

// PoseFromTransform extracts the pose whose Transform equals t. The extraction
// is the inverse of the Rx·Ry·Rz composition, so pose -> transform -> pose
// round-trips away from the pitch = ±π/2 singularity.
func PoseFromTransform(t *Transform) Pose {
	pitch := math.Asin(t.At(0, 2))
	roll := math.Atan2(-t.At(1, 2), t.At(2, 2))
	yaw := math.Atan2(-t.At(0, 1), t.At(0, 0))
	return Pose{Position: t.Translation(), Roll: roll, Pitch: pitch, Yaw: yaw}
}

// Array returns the pose as [x y z roll pitch yaw].
func (p Pose) Array() [6]float64 {
	return [6]float64{p.Position.X, p.Position.Y, p.Position.Z, p.Roll, p.Pitch, p.Yaw}
}

// PoseFromArray builds a pose from [x y z roll pitch yaw].
func PoseFromArray(a [6]float64) Pose {
	return Pose{
		Position: r3.Vector{X: a[0], Y: a[1], Z: a[2]},
		Roll:     a[3],
		Pitch:    a[4],
		Yaw:      a[5],
	}
}
