package spatialmath

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// WrapToPi wraps an angle into (-π, π].
func WrapToPi(angle float64) float64 {
	if angle < -math.Pi {
		angle += 2 * math.Pi
	} else if angle > math.Pi {
		angle -= 2 * math.Pi
	}
	return angle
}

// SignedAngleBetween returns the signed angle from a to b in the plane,
// positive counterclockwise. Errors on a zero-length input vector.
func SignedAngleBetween(a, b r2.Point) (float64, error) {
	normProduct := a.Norm() * b.Norm()
	if normProduct == 0 {
		return 0, errors.New("signed angle of a zero-length vector is undefined")
	}
	cosine := a.Dot(b) / normProduct
	if cosine > 1 {
		cosine = 1
	} else if cosine < -1 {
		cosine = -1
	}
	angle := math.Acos(cosine)
	if a.Cross(b) < 0 {
		angle = -angle
	}
	return angle, nil
}
