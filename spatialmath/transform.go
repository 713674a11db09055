// Package spatialmath provides poses, rigid transforms and angle helpers for
// the spider's kinematics.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Transform is a 4x4 homogeneous rigid transform (3x3 rotation + translation).
type Transform struct {
	m *mat.Dense
}

// NewTransform builds a transform from a rotation matrix and a translation.
func NewTransform(rotation *mat.Dense, translation r3.Vector) *Transform {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rotation.At(i, j))
		}
	}
	m.Set(0, 3, translation.X)
	m.Set(1, 3, translation.Y)
	m.Set(2, 3, translation.Z)
	m.Set(3, 3, 1)
	return &Transform{m: m}
}

// NewTransformFromDense wraps a prebuilt 4x4 matrix. The matrix is not copied.
func NewTransformFromDense(m *mat.Dense) *Transform {
	return &Transform{m: m}
}

// Identity returns the identity transform.
func Identity() *Transform {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return &Transform{m: m}
}

// NewRotationZ returns a pure rotation about the z axis.
func NewRotationZ(angle float64) *Transform {
	return NewRotationZWithTranslation(angle, r3.Vector{})
}

// NewRotationZWithTranslation returns a rotation about z plus a translation.
func NewRotationZWithTranslation(angle float64, translation r3.Vector) *Transform {
	c, s := math.Cos(angle), math.Sin(angle)
	rot := mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	return NewTransform(rot, translation)
}

// Compose returns t * other (matrix product).
func (t *Transform) Compose(other *Transform) *Transform {
	out := mat.NewDense(4, 4, nil)
	out.Mul(t.m, other.m)
	return &Transform{m: out}
}

// Inverse returns the inverse transform. The receiver is assumed rigid, so the
// inverse is (Rᵀ, -Rᵀt) rather than a general matrix inversion.
func (t *Transform) Inverse() *Transform {
	rot := t.RotationMatrix()
	var rotT mat.Dense
	rotT.CloneFrom(rot.T())
	p := t.Translation()
	tx := -(rotT.At(0, 0)*p.X + rotT.At(0, 1)*p.Y + rotT.At(0, 2)*p.Z)
	ty := -(rotT.At(1, 0)*p.X + rotT.At(1, 1)*p.Y + rotT.At(1, 2)*p.Z)
	tz := -(rotT.At(2, 0)*p.X + rotT.At(2, 1)*p.Y + rotT.At(2, 2)*p.Z)
	return NewTransform(&rotT, r3.Vector{X: tx, Y: ty, Z: tz})
}

// TransformPoint applies rotation and translation to a point.
func (t *Transform) TransformPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.m.At(0, 0)*p.X + t.m.At(0, 1)*p.Y + t.m.At(0, 2)*p.Z + t.m.At(0, 3),
		Y: t.m.At(1, 0)*p.X + t.m.At(1, 1)*p.Y + t.m.At(1, 2)*p.Z + t.m.At(1, 3),
		Z: t.m.At(2, 0)*p.X + t.m.At(2, 1)*p.Y + t.m.At(2, 2)*p.Z + t.m.At(2, 3),
	}
}

// RotatePoint applies only the rotation part to a vector.
func (t *Transform) RotatePoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.m.At(0, 0)*p.X + t.m.At(0, 1)*p.Y + t.m.At(0, 2)*p.Z,
		Y: t.m.At(1, 0)*p.X + t.m.At(1, 1)*p.Y + t.m.At(1, 2)*p.Z,
		Z: t.m.At(2, 0)*p.X + t.m.At(2, 1)*p.Y + t.m.At(2, 2)*p.Z,
	}
}

// Translation returns the translation column.
func (t *Transform) Translation() r3.Vector {
	return r3.Vector{X: t.m.At(0, 3), Y: t.m.At(1, 3), Z: t.m.At(2, 3)}
}

// RotationMatrix returns a copy of the 3x3 rotation block.
func (t *Transform) RotationMatrix() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, t.m.At(i, j))
		}
	}
	return out
}

// At returns the matrix element at (i, j).
func (t *Transform) At(i, j int) float64 {
	return t.m.At(i, j)
}
