package control_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/gwp-robotics/wallspider/control"
	"github.com/gwp-robotics/wallspider/spider"
	"github.com/gwp-robotics/wallspider/testutils/inject"
	"github.com/gwp-robotics/wallspider/trajectory"
)

func TestNewValidatesAndEnablesTorque(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sp, err := spider.New(spider.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)

	t.Run("bad config", func(t *testing.T) {
		cfg := control.DefaultConfig()
		cfg.Frequency = 0
		_, err := control.New(context.Background(), sp, &inject.Bus{}, cfg, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("enable torque failure", func(t *testing.T) {
		torqueErr := errors.New("no response from motor 11")
		bus := &inject.Bus{
			EnableTorqueFunc: func(ctx context.Context, legIDs []int) error {
				return torqueErr
			},
		}
		cfg := control.DefaultConfig()
		cfg.Clock = clock.NewMock()
		_, err := control.New(context.Background(), sp, bus, cfg, logger)
		test.That(t, errors.Is(err, torqueErr), test.ShouldBeTrue)
	})
}

func TestMoveLegAsyncValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sp, err := spider.New(spider.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	cfg := control.DefaultConfig()
	cfg.Clock = clock.NewMock()
	c, err := control.New(context.Background(), sp, &inject.Bus{}, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	ctx := context.Background()
	goal := r3.Vector{X: 0.01}

	err = c.MoveLegAsync(ctx, -1, goal, control.FrameLeg, 1, trajectory.TypeMinJerk, nil, true)
	test.That(t, err, test.ShouldNotBeNil)
	err = c.MoveLegAsync(ctx, spider.NumLegs, goal, control.FrameLeg, 1, trajectory.TypeMinJerk, nil, true)
	test.That(t, err, test.ShouldNotBeNil)
	err = c.MoveLegAsync(ctx, 0, goal, control.Frame(99), 1, trajectory.TypeMinJerk, nil, true)
	test.That(t, err, test.ShouldNotBeNil)
	err = c.MoveLegAsync(ctx, 0, goal, control.FrameGlobal, 1, trajectory.TypeMinJerk, nil, true)
	test.That(t, err, test.ShouldNotBeNil)
	err = c.MoveLegAsync(ctx, 0, goal, control.FrameLeg, 0, trajectory.TypeMinJerk, nil, true)
	test.That(t, errors.Is(err, trajectory.ErrNonPositiveDuration), test.ShouldBeTrue)

	err = c.SetForceMode(spider.NumLegs, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloseZeroesVelocitiesAndDisablesTorque(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sp, err := spider.New(spider.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)

	var zeroed, disabled bool
	bus := &inject.Bus{
		BatchWriteFunc: func(ctx context.Context, legIDs []int, velocities [][spider.MotorsPerLeg]float64) error {
			allZero := true
			for _, v := range velocities {
				for _, cmd := range v {
					if cmd != 0 {
						allZero = false
					}
				}
			}
			zeroed = allZero
			return nil
		},
		DisableTorqueFunc: func(ctx context.Context, legIDs []int) error {
			disabled = true
			return nil
		},
	}

	cfg := control.DefaultConfig()
	cfg.Clock = clock.NewMock()
	c, err := control.New(context.Background(), sp, bus, cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	test.That(t, zeroed, test.ShouldBeTrue)
	test.That(t, disabled, test.ShouldBeTrue)

	// Close is idempotent.
	test.That(t, c.Close(context.Background()), test.ShouldBeNil)

	disableErr := errors.New("port gone")
	bus2 := &inject.Bus{
		DisableTorqueFunc: func(ctx context.Context, legIDs []int) error {
			return disableErr
		},
	}
	c2, err := control.New(context.Background(), sp, bus2, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errors.Is(c2.Close(context.Background()), disableErr), test.ShouldBeTrue)
}
