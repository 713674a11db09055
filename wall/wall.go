// Package wall models the climbing wall's pin grid.
package wall

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Config describes the wall in meters. The wall plane is z = 0 with x to the
// right and y up; pins sit on a regular grid anchored at the origin.
type Config struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PinsDistance float64 `json:"pins_distance"`
}

// DefaultConfig returns the dimensions of the physical wall.
func DefaultConfig() Config {
	return Config{
		Width:        4.0,
		Height:       3.25,
		PinsDistance: 0.25,
	}
}

// Validate checks the wall dimensions.
func (cfg Config) Validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New("wall dimensions must be positive")
	}
	if cfg.PinsDistance <= 0 {
		return errors.New("pins_distance must be positive")
	}
	if cfg.PinsDistance > cfg.Width || cfg.PinsDistance > cfg.Height {
		return errors.New("pins_distance larger than the wall")
	}
	return nil
}

// Grid returns all pin positions row-major: y varies in the outer loop, x in
// the inner, both from 0 to the wall edge inclusive.
func (cfg Config) Grid() []r3.Vector {
	nx := int(math.Round(cfg.Width/cfg.PinsDistance)) + 1
	ny := int(math.Round(cfg.Height/cfg.PinsDistance)) + 1

	pins := make([]r3.Vector, 0, nx*ny)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			pins = append(pins, r3.Vector{
				X: float64(ix) * cfg.PinsDistance,
				Y: float64(iy) * cfg.PinsDistance,
			})
		}
	}
	return pins
}
