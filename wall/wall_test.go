package wall

import (
	"testing"

	"go.viam.com/test"
)

func TestGridShape(t *testing.T) {
	cfg := DefaultConfig()
	pins := cfg.Grid()

	// 17 columns by 14 rows, edges inclusive.
	test.That(t, pins, test.ShouldHaveLength, 17*14)

	test.That(t, pins[0].X, test.ShouldAlmostEqual, 0)
	test.That(t, pins[0].Y, test.ShouldAlmostEqual, 0)
	test.That(t, pins[16].X, test.ShouldAlmostEqual, 4.0)
	test.That(t, pins[16].Y, test.ShouldAlmostEqual, 0)

	// Row-major: the second row starts one spacing up.
	test.That(t, pins[17].X, test.ShouldAlmostEqual, 0)
	test.That(t, pins[17].Y, test.ShouldAlmostEqual, 0.25)

	last := pins[len(pins)-1]
	test.That(t, last.X, test.ShouldAlmostEqual, 4.0)
	test.That(t, last.Y, test.ShouldAlmostEqual, 3.25)
	for _, pin := range pins {
		test.That(t, pin.Z, test.ShouldEqual, 0)
	}
}

func TestGridDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	a, b := cfg.Grid(), cfg.Grid()
	test.That(t, a, test.ShouldResemble, b)
}

func TestValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Width = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.PinsDistance = -1
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.PinsDistance = 5
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}
