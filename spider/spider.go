// Package spider models the robot's fixed geometry: body radius, leg link
// lengths, anchor transforms and reachability limits.
package spider

import (
	"encoding/json"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/gwp-robotics/wallspider/spatialmath"
)

const (
	// NumLegs is the number of legs on the robot.
	NumLegs = 5
	// MotorsPerLeg is the number of actuated joints per leg.
	MotorsPerLeg = 3
)

// LegDimensions holds the three link lengths of a leg in meters.
type LegDimensions struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
}

// Config describes the robot geometry. Anchors and ideal leg vectors are
// derived from it, never stored.
type Config struct {
	BodyRadius    float64       `json:"body_radius"`
	Legs          LegDimensions `json:"legs"`
	WalkingHeight float64       `json:"walking_height"`

	// Leg length limits guarding against singular configurations.
	LegLengthMaxLimit float64 `json:"leg_length_max_limit"`
	LegLengthMinLimit float64 `json:"leg_length_min_limit"`

	// Reachability band measured from the leg anchor in the wall plane, and
	// the allowed first-joint deviation from the ideal leg vector.
	MinReachRadius    float64 `json:"min_reach_radius"`
	MaxReachRadius    float64 `json:"max_reach_radius"`
	MaxAngleDeviation float64 `json:"max_angle_deviation"`

	// Per-segment masses in kg and distances from segment start to its COG,
	// used for gravity torque estimation.
	SegmentMasses     [NumLegs][MotorsPerLeg]float64 `json:"segment_masses"`
	SegmentCOGOffsets [MotorsPerLeg]float64          `json:"segment_cog_offsets"`
}

// DefaultConfig returns the geometry of the physical robot.
func DefaultConfig() Config {
	cfg := Config{
		BodyRadius:        0.15,
		Legs:              LegDimensions{L1: 0.064, L2: 0.3, L3: 0.276},
		WalkingHeight:     0.2,
		LegLengthMaxLimit: 0.58,
		LegLengthMinLimit: 0.32,
		MinReachRadius:    0.15,
		MaxReachRadius:    0.45,
		MaxAngleDeviation: 60.0 * math.Pi / 180.0,
		SegmentCOGOffsets: [MotorsPerLeg]float64{0.032, 0.19, 0.158},
	}
	for leg := 0; leg < NumLegs; leg++ {
		cfg.SegmentMasses[leg] = [MotorsPerLeg]float64{0.057, 0.62, 0.27}
	}
	cfg.SegmentMasses[1][2] = 0.29
	return cfg
}

// Validate checks the config for values that would break the kinematics.
func (cfg Config) Validate() error {
	if cfg.BodyRadius <= 0 {
		return errors.New("body_radius must be positive")
	}
	if cfg.Legs.L1 <= 0 || cfg.Legs.L2 <= 0 || cfg.Legs.L3 <= 0 {
		return errors.New("leg link lengths must be positive")
	}
	if cfg.WalkingHeight <= 0 {
		return errors.New("walking_height must be positive")
	}
	if cfg.LegLengthMinLimit <= 0 || cfg.LegLengthMaxLimit <= cfg.LegLengthMinLimit {
		return errors.New("leg length limits must satisfy 0 < min < max")
	}
	if cfg.MinReachRadius <= 0 || cfg.MaxReachRadius <= cfg.MinReachRadius {
		return errors.New("reach radius band must satisfy 0 < min < max")
	}
	if cfg.MaxAngleDeviation <= 0 || cfg.MaxAngleDeviation > math.Pi {
		return errors.Errorf("max_angle_deviation %f out of (0, π]", cfg.MaxAngleDeviation)
	}
	return nil
}

// AngleBetweenLegs is the angular spacing of anchors around the body.
const AngleBetweenLegs = 2 * math.Pi / NumLegs

// Spider is the immutable robot model with precomputed anchor frames.
type Spider struct {
	Config

	// Anchors[i] transforms leg i's base frame into the body frame. The
	// anchor x axis points radially outward.
	Anchors [NumLegs]*spatialmath.Transform
	// AnchorPositions[i] is the anchor origin in the body frame.
	AnchorPositions [NumLegs]r3.Vector
	// IdealLegVectors[i] is the unit radial direction leg i prefers to
	// reach toward, in the body frame.
	IdealLegVectors [NumLegs]r3.Vector
}

// New builds a Spider from a validated config.
func New(cfg Config) (*Spider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sp := &Spider{Config: cfg}
	for leg := 0; leg < NumLegs; leg++ {
		angle := AnchorAngle(leg)
		position := r3.Vector{
			X: cfg.BodyRadius * math.Cos(angle),
			Y: cfg.BodyRadius * math.Sin(angle),
		}
		sp.Anchors[leg] = spatialmath.NewRotationZWithTranslation(angle, position)
		sp.AnchorPositions[leg] = position
		sp.IdealLegVectors[leg] = r3.Vector{X: math.Cos(angle), Y: math.Sin(angle)}
	}
	return sp, nil
}

// AnchorAngle returns the angle of leg's anchor from the body x axis. Leg 0
// points along +y; the rest follow counterclockwise.
func AnchorAngle(leg int) float64 {
	return float64(leg)*AngleBetweenLegs + math.Pi/2
}

// LegIDs returns all leg ids in order.
func (sp *Spider) LegIDs() []int {
	ids := make([]int, NumLegs)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// ReadConfig loads a geometry config from a JSON file.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot read spider config %q", path)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "cannot parse spider config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
