package kinematics

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/spider"
)

func testSpider(t *testing.T) *spider.Spider {
	t.Helper()
	sp, err := spider.New(spider.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	return sp
}

func sweepAngles() []JointAngles {
	var qs []JointAngles
	for _, q1 := range []float64{-0.9, -0.4, 0, 0.5, 1.0} {
		for _, q2 := range []float64{-0.5, 0, 0.4, 0.8} {
			for _, q3 := range []float64{-2.0, -1.4, -0.8, -0.4} {
				qs = append(qs, JointAngles{q1, q2, q3})
			}
		}
	}
	return qs
}

func TestLegInverseKinematicsRoundTrip(t *testing.T) {
	sp := testSpider(t)
	for _, q := range sweepAngles() {
		tip := LegForwardKinematics(sp.Legs, q).Translation()
		got, err := LegInverseKinematics(sp.Legs, tip)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got[0], test.ShouldAlmostEqual, q[0], 1e-3)
		test.That(t, got[1], test.ShouldAlmostEqual, q[1], 1e-3)
		test.That(t, got[2], test.ShouldAlmostEqual, q[2], 1e-3)
	}
}

func TestLegInverseKinematicsLowerWorkspace(t *testing.T) {
	sp := testSpider(t)
	// A configuration folding the tip behind the second joint.
	q := JointAngles{0.2, -0.5, -2.6}
	tip := LegForwardKinematics(sp.Legs, q).Translation()
	got, err := LegInverseKinematics(sp.Legs, tip)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got[0], test.ShouldAlmostEqual, q[0], 1e-3)
	test.That(t, got[1], test.ShouldAlmostEqual, q[1], 1e-3)
	test.That(t, got[2], test.ShouldAlmostEqual, q[2], 1e-3)
}

func TestLegInverseKinematicsElbowDown(t *testing.T) {
	sp := testSpider(t)
	q, err := LegInverseKinematics(sp.Legs, r3.Vector{X: 0.35, Y: 0.1, Z: -0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q[2], test.ShouldBeLessThanOrEqualTo, 0)
}

func TestLegInverseKinematicsOutOfReach(t *testing.T) {
	sp := testSpider(t)
	_, err := LegInverseKinematics(sp.Legs, r3.Vector{X: 0.8})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrOutOfReach), test.ShouldBeTrue)

	// Too close to the second joint is equally unreachable.
	_, err = LegInverseKinematics(sp.Legs, r3.Vector{X: 0.065})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLegInverseKinematicsBoundaryClamp(t *testing.T) {
	sp := testSpider(t)
	// Fully stretched leg: acos argument lands on the domain boundary and
	// must be absorbed, not rejected.
	reach := sp.Legs.L1 + sp.Legs.L2 + sp.Legs.L3
	q, err := LegInverseKinematics(sp.Legs, r3.Vector{X: reach + 1e-9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q[2], test.ShouldAlmostEqual, 0, 1e-2)
}

func numericJacobian(f func(JointAngles) r3.Vector, q JointAngles) *mat.Dense {
	const h = 1e-6
	out := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		plus, minus := q, q
		plus[j] += h
		minus[j] -= h
		fp, fm := f(plus), f(minus)
		out.Set(0, j, (fp.X-fm.X)/(2*h))
		out.Set(1, j, (fp.Y-fm.Y)/(2*h))
		out.Set(2, j, (fp.Z-fm.Z)/(2*h))
	}
	return out
}

func matricesAlmostEqual(t *testing.T, a, b *mat.Dense, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, a.At(i, j), test.ShouldAlmostEqual, b.At(i, j), tol)
		}
	}
}

func TestLegJacobianMatchesNumeric(t *testing.T) {
	sp := testSpider(t)
	for _, q := range sweepAngles() {
		analytic := LegJacobian(sp.Legs, q)
		numeric := numericJacobian(func(q JointAngles) r3.Vector {
			return LegForwardKinematics(sp.Legs, q).Translation()
		}, q)
		matricesAlmostEqual(t, analytic, numeric, 1e-5)
	}
}

func TestBodyToLegTipJacobianMatchesNumeric(t *testing.T) {
	sp := testSpider(t)
	for leg := 0; leg < spider.NumLegs; leg++ {
		for _, q := range []JointAngles{{0, 0.3, -1.2}, {-0.5, 0.1, -0.9}, {0.7, -0.2, -1.8}} {
			analytic := BodyToLegTipJacobian(sp, leg, q)
			numeric := numericJacobian(func(q JointAngles) r3.Vector {
				return BodyToLegTipForwardKinematics(sp, leg, q).Translation()
			}, q)
			matricesAlmostEqual(t, analytic, numeric, 1e-5)
		}
	}
}

func TestBodyToLegTipMatchesAnchorChain(t *testing.T) {
	sp := testSpider(t)
	q := JointAngles{0.3, 0.2, -1.1}
	for leg := 0; leg < spider.NumLegs; leg++ {
		direct := BodyToLegTipForwardKinematics(sp, leg, q).Translation()
		chained := sp.Anchors[leg].Compose(LegForwardKinematics(sp.Legs, q)).Translation()
		test.That(t, direct.X, test.ShouldAlmostEqual, chained.X, 1e-12)
		test.That(t, direct.Y, test.ShouldAlmostEqual, chained.Y, 1e-12)
		test.That(t, direct.Z, test.ShouldAlmostEqual, chained.Z, 1e-12)
	}
}

func TestBodyToLegTipPositions(t *testing.T) {
	sp := testSpider(t)
	var all [spider.NumLegs]JointAngles
	for i := range all {
		all[i] = JointAngles{0, 0.3, -1.2}
	}
	tips := BodyToLegTipPositions(sp, all)
	// Same joint angles on every leg keep the tips on a circle.
	radius := tips[0].Norm()
	for _, tip := range tips {
		test.That(t, tip.Norm(), test.ShouldAlmostEqual, radius, 1e-9)
	}
}
