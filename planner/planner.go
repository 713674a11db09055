// Package planner selects footholds and body poses for walking on the pin
// wall.
package planner

import (
	"fmt"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

// Scoring constants tuned on the physical wall. The y terms stretch the
// upper legs against gravity; the penalties keep side legs on their own
// side and off the middle leg's pin column.
const (
	upperYAmplifier     = 5.0
	lowerYAmplifier     = -1.0
	distanceEpsilon     = 1e-4
	sharedColumnPenalty = -1000.0
	wrongSidePenalty    = -100.0

	startCorrectionStep     = 0.005
	startCorrectionMaxIters = 100
	overExtensionLimit      = 0.6
)

// ErrNoFeasibleStartPose is returned when no body pose keeps every leg
// within its length limit at the current foothold positions.
var ErrNoFeasibleStartPose = errors.New("planner: no feasible start pose for the current leg positions")

// NoReachablePinError is returned when a leg has no candidate pin at a path
// step.
type NoReachablePinError struct {
	Leg  int
	Step int
}

func (e *NoReachablePinError) Error() string {
	return fmt.Sprintf("planner: no reachable pin for leg %d at path step %d", e.Leg, e.Step)
}

// Config holds the path subdivision and pin search parameters.
type Config struct {
	// MaxLinearStep is the longest 2-D body displacement per path step in
	// meters.
	MaxLinearStep float64 `json:"max_linear_step"`
	// SearchRadius bounds the pin search around the body position.
	SearchRadius float64 `json:"search_radius"`
}

// DefaultConfig returns the parameters tuned on the physical robot.
func DefaultConfig() Config {
	return Config{
		MaxLinearStep: 0.06,
		SearchRadius:  1.0,
	}
}

// Validate checks the planner parameters.
func (cfg Config) Validate() error {
	if cfg.MaxLinearStep <= 0 {
		return errors.New("max_linear_step must be positive")
	}
	if cfg.SearchRadius <= 0 {
		return errors.New("search_radius must be positive")
	}
	return nil
}

// LegPin binds a leg to a foothold position in the global frame.
type LegPin struct {
	Leg      int
	Position r3.Vector
}

// Instruction is one walking step: the body pose to reach and the foothold
// per leg, ordered by the travel-direction moving order.
type Instruction struct {
	Pose spatialmath.Pose
	Pins []LegPin
}

// Planner selects footholds over a fixed pin grid.
type Planner struct {
	sp     *spider.Spider
	pins   []r3.Vector
	cfg    Config
	logger golog.Logger
}

// New builds a planner over the given pin grid.
func New(sp *spider.Spider, pins []r3.Vector, cfg Config, logger golog.Logger) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pins) == 0 {
		return nil, errors.New("planner: empty pin grid")
	}
	return &Planner{sp: sp, pins: pins, cfg: cfg, logger: logger}, nil
}

// BodyPath subdivides the straight line between two poses so no step moves
// the body more than MaxLinearStep in the wall plane. Start and goal are
// included exactly; a zero-distance path is just the start.
func (p *Planner) BodyPath(start, goal spatialmath.Pose) []spatialmath.Pose {
	distance := math.Hypot(goal.Position.X-start.Position.X, goal.Position.Y-start.Position.Y)
	if distance == 0 {
		return []spatialmath.Pose{start}
	}

	steps := int(math.Ceil(distance/p.cfg.MaxLinearStep)) + 1
	path := make([]spatialmath.Pose, 0, steps)
	startArr, goalArr := start.Array(), goal.Array()
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		var arr [6]float64
		for j := range arr {
			arr[j] = startArr[j] + t*(goalArr[j]-startArr[j])
		}
		path = append(path, spatialmath.PoseFromArray(arr))
	}
	path[len(path)-1] = goal
	return path
}

// legRoles classifies the legs by their posed anchor positions: three legs
// above the body split into left/middle/right, two below into left/right.
type legRoles struct {
	upperLeft, upperRight, upperMiddle int
	lowerLeft, lowerRight              int
}

func (r legRoles) isUpper(leg int) bool {
	return leg == r.upperLeft || leg == r.upperRight || leg == r.upperMiddle
}

func assignRoles(anchors [spider.NumLegs]r3.Vector, bodyY float64) (legRoles, error) {
	var upper, lower []int
	for leg := 0; leg < spider.NumLegs; leg++ {
		if anchors[leg].Y > bodyY {
			upper = append(upper, leg)
		} else {
			lower = append(lower, leg)
		}
	}
	if len(upper) != 3 || len(lower) != 2 {
		return legRoles{}, errors.Errorf("planner: expected 3 upper and 2 lower legs, got %d and %d", len(upper), len(lower))
	}

	minX := func(legs []int) int {
		best := legs[0]
		for _, leg := range legs[1:] {
			if anchors[leg].X < anchors[best].X {
				best = leg
			}
		}
		return best
	}
	maxX := func(legs []int) int {
		best := legs[0]
		for _, leg := range legs[1:] {
			if anchors[leg].X > anchors[best].X {
				best = leg
			}
		}
		return best
	}

	r := legRoles{
		upperLeft:  minX(upper),
		upperRight: maxX(upper),
		lowerLeft:  minX(lower),
		lowerRight: maxX(lower),
	}
	for _, leg := range upper {
		if leg != r.upperLeft && leg != r.upperRight {
			r.upperMiddle = leg
		}
	}
	return r, nil
}

// candidatesForLeg filters the pruned pin set down to pins the leg can
// plausibly hold: 2-D anchor distance inside the reach band (bounds
// inclusive) and direction within the allowed deviation from the leg's
// rotated ideal vector.
func (p *Planner) candidatesForLeg(
	legID int,
	bodyTransform *spatialmath.Transform,
	anchor r3.Vector,
	inRadius []r3.Vector,
) []r3.Vector {
	rotatedIdeal := bodyTransform.RotatePoint(p.sp.IdealLegVectors[legID])
	ideal2 := r2.Point{X: rotatedIdeal.X, Y: rotatedIdeal.Y}

	var candidates []r3.Vector
	for _, pin := range inRadius {
		d := math.Hypot(pin.X-anchor.X, pin.Y-anchor.Y)
		if d < p.sp.MinReachRadius || d > p.sp.MaxReachRadius {
			continue
		}
		toPin := r2.Point{X: pin.X - anchor.X, Y: pin.Y - anchor.Y}
		angle, err := spatialmath.SignedAngleBetween(ideal2, toPin)
		if err != nil {
			continue
		}
		if math.Abs(angle) >= p.sp.MaxAngleDeviation {
			continue
		}
		candidates = append(candidates, pin)
	}
	return candidates
}

// selectStep picks one pin per leg for a body pose. The upper-middle leg is
// scored first so the side legs can avoid its pin column.
func (p *Planner) selectStep(pose spatialmath.Pose, step int) ([spider.NumLegs]r3.Vector, error) {
	var selected [spider.NumLegs]r3.Vector

	bodyTransform := pose.Transform()
	var anchors [spider.NumLegs]r3.Vector
	for leg := 0; leg < spider.NumLegs; leg++ {
		anchors[leg] = bodyTransform.Compose(p.sp.Anchors[leg]).Translation()
	}

	roles, err := assignRoles(anchors, pose.Position.Y)
	if err != nil {
		return selected, err
	}

	var inRadius []r3.Vector
	for _, pin := range p.pins {
		if pin.Sub(pose.Position).Norm() <= p.cfg.SearchRadius {
			inRadius = append(inRadius, pin)
		}
	}

	order := make([]int, 0, spider.NumLegs)
	order = append(order, roles.upperMiddle)
	for leg := 0; leg < spider.NumLegs; leg++ {
		if leg != roles.upperMiddle {
			order = append(order, leg)
		}
	}

	var middlePin r3.Vector
	for _, leg := range order {
		candidates := p.candidatesForLeg(leg, bodyTransform, anchors[leg], inRadius)
		if len(candidates) == 0 {
			return selected, &NoReachablePinError{Leg: leg, Step: step}
		}

		best, bestScore := candidates[0], math.Inf(-1)
		for _, pin := range candidates {
			score := p.scorePin(leg, pin, anchors[leg], pose, roles, middlePin)
			if score > bestScore {
				best, bestScore = pin, score
			}
		}
		selected[leg] = best
		if leg == roles.upperMiddle {
			middlePin = best
		}
	}
	return selected, nil
}

func (p *Planner) scorePin(
	legID int,
	pin, anchor r3.Vector,
	pose spatialmath.Pose,
	roles legRoles,
	middlePin r3.Vector,
) float64 {
	yAmp := lowerYAmplifier
	if roles.isUpper(legID) {
		yAmp = upperYAmplifier
	}
	score := yAmp*(pin.Y-anchor.Y) + 1/(math.Abs(anchor.X-pin.X)+distanceEpsilon)

	xDistance := pin.X - anchor.X
	inverse := 1 / (math.Abs(xDistance) + distanceEpsilon)
	switch legID {
	case roles.upperMiddle:
		score += 1 / (math.Abs(pin.X-pose.Position.X) + distanceEpsilon)
	case roles.upperLeft:
		switch {
		case pin.X == middlePin.X:
			score += sharedColumnPenalty
		case xDistance <= 0:
			score += inverse
		}
	case roles.upperRight:
		switch {
		case pin.X == middlePin.X:
			score += sharedColumnPenalty
		case xDistance >= 0:
			score += inverse
		}
	case roles.lowerLeft:
		if xDistance > 0 {
			score += wrongSidePenalty
		} else {
			score += inverse
		}
	case roles.lowerRight:
		if xDistance < 0 {
			score += wrongSidePenalty
		} else {
			score += inverse
		}
	}
	return score
}

// MovingOrder returns the order legs step in for travel from start to goal.
// The tables favor trailing legs first so the body never outruns its
// support.
func MovingOrder(start, goal spatialmath.Pose) [spider.NumLegs]int {
	direction := math.Atan2(goal.Position.X-start.Position.X, goal.Position.Y-start.Position.Y)
	switch {
	case direction == math.Pi:
		return [spider.NumLegs]int{0, 1, 4, 2, 3}
	case direction == 0:
		return [spider.NumLegs]int{2, 3, 1, 4, 0}
	case direction >= 0:
		return [spider.NumLegs]int{4, 3, 0, 2, 1}
	default:
		return [spider.NumLegs]int{1, 2, 0, 3, 4}
	}
}

func orderPins(selected [spider.NumLegs]r3.Vector, order [spider.NumLegs]int) []LegPin {
	pins := make([]LegPin, 0, spider.NumLegs)
	for _, leg := range order {
		pins = append(pins, LegPin{Leg: leg, Position: selected[leg]})
	}
	return pins
}

// WalkingInstructions plans the full walk from start to goal: the body path,
// a pin selection per step, and one instruction wherever the selection
// changes (plus the first and final steps).
func (p *Planner) WalkingInstructions(start, goal spatialmath.Pose) ([]Instruction, error) {
	path := p.BodyPath(start, goal)

	selected := make([][spider.NumLegs]r3.Vector, len(path))
	for i, pose := range path {
		step, err := p.selectStep(pose, i)
		if err != nil {
			return nil, err
		}
		selected[i] = step
	}

	order := MovingOrder(start, goal)
	instructions := []Instruction{{Pose: path[0], Pins: orderPins(selected[0], order)}}
	for i := 1; i < len(path); i++ {
		if selected[i] != selected[i-1] || i == len(path)-1 {
			instructions = append(instructions, Instruction{Pose: path[i], Pins: orderPins(selected[i], order)})
		}
	}
	return instructions, nil
}

// CorrectedWalkingInstructions plans a walk that starts from where the legs
// actually are. The start pose is the mean foothold position at walking
// height; it is nudged along y until no leg exceeds its length limit, then
// the actual footholds are prepended as the first instruction.
func (p *Planner) CorrectedWalkingInstructions(
	currentLegPositions [spider.NumLegs]r3.Vector,
	goal spatialmath.Pose,
) ([]Instruction, error) {
	var mean r3.Vector
	for _, position := range currentLegPositions {
		mean = mean.Add(position)
	}
	mean = mean.Mul(1.0 / spider.NumLegs)
	startPose := spatialmath.NewPose4(mean.X, mean.Y, p.sp.WalkingHeight, 0)

	for iter := 0; ; iter++ {
		var lengths [spider.NumLegs]float64
		var overExtended []int
		bodyTransform := startPose.Transform()
		for leg := 0; leg < spider.NumLegs; leg++ {
			anchor := bodyTransform.Compose(p.sp.Anchors[leg]).Translation()
			lengths[leg] = currentLegPositions[leg].Sub(anchor).Norm()
			if lengths[leg] > p.sp.LegLengthMaxLimit {
				overExtended = append(overExtended, leg)
			}
		}

		if len(overExtended) == 0 || iter > startCorrectionMaxIters {
			for leg, length := range lengths {
				if length > overExtensionLimit {
					p.logger.Errorw("start pose leaves a leg over-extended",
						"leg", leg, "length", length)
					return nil, ErrNoFeasibleStartPose
				}
			}
			break
		}

		// Legs 2 and 3 hang below the body: easing them means moving down,
		// anything else moves up.
		nudge := startCorrectionStep
		for _, leg := range overExtended {
			if leg == 2 || leg == 3 {
				nudge = -startCorrectionStep
				break
			}
		}
		startPose.Position.Y += nudge
	}

	instructions, err := p.WalkingInstructions(startPose, goal)
	if err != nil {
		return nil, err
	}

	order := MovingOrder(startPose, goal)
	corrected := make([]Instruction, 0, len(instructions)+1)
	corrected = append(corrected, Instruction{Pose: startPose, Pins: orderPins(currentLegPositions, order)})
	return append(corrected, instructions...), nil
}
