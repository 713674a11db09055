package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/wall"
)

func newTestManager(t *testing.T) (*Manager, []r3.Vector) {
	t.Helper()
	pins := wall.DefaultConfig().Grid()
	m, err := New(filepath.Join(t.TempDir(), "spider_state.json"), pins)
	test.That(t, err, test.ShouldBeNil)
	return m, pins
}

func TestUpdateAllRoundTrip(t *testing.T) {
	m, pins := newTestManager(t)

	pose := spatialmath.NewPose4(2, 1.5, 0.2, 0.1)
	movingOrder := [5]int{2, 3, 1, 4, 0}
	// Grid indices 40..44 hold distinct pins.
	legPins := [5]r3.Vector{pins[40], pins[41], pins[42], pins[43], pins[44]}

	var inMovingOrder [5]r3.Vector
	for i, leg := range movingOrder {
		inMovingOrder[i] = legPins[leg]
	}

	test.That(t, m.UpdateAll(pose, inMovingOrder, movingOrder), test.ShouldBeNil)

	gotPose, ids, positions, err := m.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotPose, test.ShouldResemble, pose)
	// Un-permuted back to leg order.
	test.That(t, ids, test.ShouldResemble, [5]int{40, 41, 42, 43, 44})
	test.That(t, positions, test.ShouldResemble, legPins)
}

func TestUpdatePin(t *testing.T) {
	m, pins := newTestManager(t)

	pose := spatialmath.NewPose4(1, 1, 0.2, 0)
	order := [5]int{0, 1, 2, 3, 4}
	test.That(t, m.UpdateAll(pose, [5]r3.Vector{pins[0], pins[1], pins[2], pins[3], pins[4]}, order),
		test.ShouldBeNil)

	test.That(t, m.UpdatePin(2, pins[77]), test.ShouldBeNil)
	_, ids, positions, err := m.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, [5]int{0, 1, 77, 3, 4})
	test.That(t, positions[2], test.ShouldResemble, pins[77])

	test.That(t, m.UpdatePin(5, pins[0]), test.ShouldNotBeNil)
}

func TestUnknownPin(t *testing.T) {
	m, pins := newTestManager(t)

	offGrid := r3.Vector{X: 0.1, Y: 0.1}
	err := m.UpdatePin(0, offGrid)
	test.That(t, errors.Is(err, ErrUnknownPin), test.ShouldBeTrue)

	var inOrder [5]r3.Vector
	inOrder[0] = offGrid
	for i := 1; i < 5; i++ {
		inOrder[i] = pins[i]
	}
	err = m.UpdateAll(spatialmath.Pose{}, inOrder, [5]int{0, 1, 2, 3, 4})
	test.That(t, errors.Is(err, ErrUnknownPin), test.ShouldBeTrue)

	// Noise below the tolerance still matches.
	near := pins[10]
	near.X += 1e-9
	test.That(t, m.UpdatePin(0, near), test.ShouldBeNil)
}

func TestInvalidMovingOrder(t *testing.T) {
	m, pins := newTestManager(t)
	var inOrder [5]r3.Vector
	for i := range inOrder {
		inOrder[i] = pins[i]
	}
	err := m.UpdateAll(spatialmath.Pose{}, inOrder, [5]int{0, 0, 1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadMissingOrCorrupt(t *testing.T) {
	m, _ := newTestManager(t)
	_, _, _, err := m.Read()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(m.path, []byte("not json"), 0o600), test.ShouldBeNil)
	_, _, _, err = m.Read()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(m.path, []byte(`{"pose":[0,0,0,0,0,0],"pins":[0,1,2,3,999999]}`), 0o600),
		test.ShouldBeNil)
	_, _, _, err = m.Read()
	test.That(t, err, test.ShouldNotBeNil)
}
