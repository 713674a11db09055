// Package statefile persists the robot's pose and foothold assignment
// between runs.
package statefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
)

// ErrUnknownPin is returned when a foothold position does not match any grid
// pin.
var ErrUnknownPin = errors.New("statefile: position does not match any pin")

// pinMatchTolerance absorbs float noise when mapping positions back to grid
// indices.
const pinMatchTolerance = 1e-6

type state struct {
	Pose [6]float64          `json:"pose"`
	Pins [spider.NumLegs]int `json:"pins"`
}

// Manager reads and writes the state snapshot bound to one file and one pin
// grid. Writes are atomic: temp file then rename.
type Manager struct {
	path string
	pins []r3.Vector

	mu    sync.Mutex
	state state
}

// New builds a manager for the given snapshot path and pin grid.
func New(path string, pins []r3.Vector) (*Manager, error) {
	if path == "" {
		return nil, errors.New("statefile: empty path")
	}
	if len(pins) == 0 {
		return nil, errors.New("statefile: empty pin grid")
	}
	return &Manager{path: path, pins: pins}, nil
}

// UpdateAll records the body pose and all five footholds. The pins arrive in
// the moving order used for the step and are un-permuted back to leg order
// before the snapshot is written.
func (m *Manager) UpdateAll(
	pose spatialmath.Pose,
	pinsInMovingOrder [spider.NumLegs]r3.Vector,
	movingOrder [spider.NumLegs]int,
) error {
	var byLeg [spider.NumLegs]r3.Vector
	seen := [spider.NumLegs]bool{}
	for i, leg := range movingOrder {
		if leg < 0 || leg >= spider.NumLegs || seen[leg] {
			return errors.Errorf("statefile: invalid moving order %v", movingOrder)
		}
		seen[leg] = true
		byLeg[leg] = pinsInMovingOrder[i]
	}

	var ids [spider.NumLegs]int
	for leg, position := range byLeg {
		id, err := m.pinIndex(position)
		if err != nil {
			return errors.Wrapf(err, "leg %d", leg)
		}
		ids[leg] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Pose = pose.Array()
	m.state.Pins = ids
	return m.write()
}

// UpdatePin records a single leg's new foothold.
func (m *Manager) UpdatePin(legID int, pin r3.Vector) error {
	if legID < 0 || legID >= spider.NumLegs {
		return errors.Errorf("statefile: unknown leg %d", legID)
	}
	id, err := m.pinIndex(pin)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Pins[legID] = id
	return m.write()
}

// Read loads the snapshot and returns the pose, the grid indices and the pin
// positions per leg.
func (m *Manager) Read() (spatialmath.Pose, [spider.NumLegs]int, [spider.NumLegs]r3.Vector, error) {
	var positions [spider.NumLegs]r3.Vector

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return spatialmath.Pose{}, [spider.NumLegs]int{}, positions,
			errors.Wrapf(err, "cannot read state snapshot %q", m.path)
	}
	var loaded state
	if err := json.Unmarshal(data, &loaded); err != nil {
		return spatialmath.Pose{}, [spider.NumLegs]int{}, positions,
			errors.Wrapf(err, "cannot parse state snapshot %q", m.path)
	}
	for leg, id := range loaded.Pins {
		if id < 0 || id >= len(m.pins) {
			return spatialmath.Pose{}, [spider.NumLegs]int{}, positions,
				errors.Errorf("statefile: pin index %d of leg %d out of grid", id, leg)
		}
		positions[leg] = m.pins[id]
	}
	m.state = loaded
	return spatialmath.PoseFromArray(loaded.Pose), loaded.Pins, positions, nil
}

func (m *Manager) pinIndex(position r3.Vector) (int, error) {
	for id, pin := range m.pins {
		if pin.Sub(position).Norm() < pinMatchTolerance {
			return id, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownPin, "%v", position)
}

// write dumps the state atomically. Caller must hold m.mu.
func (m *Manager) write() error {
	data, err := json.Marshal(m.state)
	if err != nil {
		return errors.Wrap(err, "cannot encode state snapshot")
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".spider_state_*")
	if err != nil {
		return errors.Wrap(err, "cannot create snapshot temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "cannot write snapshot temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "cannot close snapshot temp file")
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "cannot move snapshot into place")
	}
	return nil
}
