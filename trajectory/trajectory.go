// Package trajectory generates fixed-period position and velocity waypoint
// sequences between two points.
package trajectory

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Type selects the interpolation profile.
type Type int

const (
	// TypeMinJerk is a straight-line minimum-jerk polynomial with zero
	// endpoint velocity and acceleration.
	TypeMinJerk Type = iota
	// TypeBezier is a degree-4 Bezier arc with zero endpoint velocity,
	// lifted above the straight line at its midpoint.
	TypeBezier
)

// String implements fmt.Stringer.
func (tt Type) String() string {
	switch tt {
	case TypeMinJerk:
		return "minjerk"
	case TypeBezier:
		return "bezier"
	default:
		return "unknown"
	}
}

// Errors signalled for degenerate movement requests.
var (
	ErrNonPositiveDuration = errors.New("trajectory duration must be positive")
	ErrTooShort            = errors.New("trajectory endpoints are too close together")
	ErrUnknownType         = errors.New("unknown trajectory type")
)

// minDistance is the smallest endpoint separation considered a movement.
const minDistance = 1e-6

// bezierLiftHeight is how far above the straight line the Bezier arc's middle
// control point is placed, in meters.
const bezierLiftHeight = 0.05

// Sample is one fixed-period waypoint.
type Sample struct {
	Position r3.Vector
	Velocity r3.Vector
	T        float64
}

// Trajectory is an ordered, time-stamped waypoint sequence.
type Trajectory []Sample

// Generate produces the trajectory of the given type. Both profiles emit
// exactly ceil(duration/period)+1 samples with timestamps evenly spaced from
// 0 to duration inclusive.
func Generate(trajType Type, start, goal r3.Vector, duration, period float64) (Trajectory, error) {
	switch trajType {
	case TypeMinJerk:
		return MinJerk(start, goal, duration, period)
	case TypeBezier:
		return Bezier(start, goal, duration, period)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%d", trajType)
	}
}

func checkEndpoints(start, goal r3.Vector, duration, period float64) (int, error) {
	if duration <= 0 {
		return 0, ErrNonPositiveDuration
	}
	if period <= 0 {
		return 0, errors.New("trajectory period must be positive")
	}
	if goal.Sub(start).Norm() < minDistance {
		return 0, ErrTooShort
	}
	return int(math.Ceil(duration/period)) + 1, nil
}

// MinJerk generates a straight-line minimum-jerk trajectory.
func MinJerk(start, goal r3.Vector, duration, period float64) (Trajectory, error) {
	numSamples, err := checkEndpoints(start, goal, duration, period)
	if err != nil {
		return nil, err
	}

	delta := goal.Sub(start)
	out := make(Trajectory, numSamples)
	for i := range out {
		t := duration * float64(i) / float64(numSamples-1)
		s := t / duration
		blend := s * s * s * (10 + s*(-15+6*s))
		blendRate := 30 * s * s * (1 + s*(-2+s)) / duration
		out[i] = Sample{
			Position: start.Add(delta.Mul(blend)),
			Velocity: delta.Mul(blendRate),
			T:        t,
		}
	}
	return out, nil
}

// Bezier generates a degree-4 Bezier trajectory. The endpoint control points
// are duplicated so the velocity vanishes at both ends, and the middle control
// point is lifted along +z above the straight-line midpoint.
func Bezier(start, goal r3.Vector, duration, period float64) (Trajectory, error) {
	numSamples, err := checkEndpoints(start, goal, duration, period)
	if err != nil {
		return nil, err
	}

	mid := start.Add(goal).Mul(0.5).Add(r3.Vector{Z: bezierLiftHeight})
	controls := [5]r3.Vector{start, start, mid, goal, goal}

	out := make(Trajectory, numSamples)
	for i := range out {
		t := duration * float64(i) / float64(numSamples-1)
		s := t / duration
		out[i] = Sample{
			Position: bezierPoint(controls, s),
			Velocity: bezierDerivative(controls, s).Mul(1 / duration),
			T:        t,
		}
	}
	return out, nil
}

func bezierPoint(c [5]r3.Vector, s float64) r3.Vector {
	u := 1 - s
	var out r3.Vector
	coeffs := [5]float64{
		u * u * u * u,
		4 * u * u * u * s,
		6 * u * u * s * s,
		4 * u * s * s * s,
		s * s * s * s,
	}
	for i := range c {
		out = out.Add(c[i].Mul(coeffs[i]))
	}
	return out
}

func bezierDerivative(c [5]r3.Vector, s float64) r3.Vector {
	u := 1 - s
	var out r3.Vector
	// Derivative of a degree-4 Bezier is a degree-3 Bezier over the
	// control point differences, scaled by the degree.
	diffs := [4]r3.Vector{
		c[1].Sub(c[0]),
		c[2].Sub(c[1]),
		c[3].Sub(c[2]),
		c[4].Sub(c[3]),
	}
	coeffs := [4]float64{
		u * u * u,
		3 * u * u * s,
		3 * u * s * s,
		s * s * s,
	}
	for i := range diffs {
		out = out.Add(diffs[i].Mul(4 * coeffs[i]))
	}
	return out
}
