package control

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/gwp-robotics/wallspider/dynamics"
	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
	"github.com/gwp-robotics/wallspider/utils"
)

// jointSample is one control-period entry of a leg's command queue. A
// sentinel entry ends a motion: the loop records its angles as the hold
// target and stops feeding forward velocity.
type jointSample struct {
	q        kinematics.JointAngles
	qd       [spider.MotorsPerLeg]float64
	sentinel bool
}

// Controller owns the single control-loop goroutine and the shared state it
// exchanges with movement-request callers. All shared fields live behind one
// mutex; queue replacement is the cancellation primitive.
type Controller struct {
	sp     *spider.Spider
	bus    Bus
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	mu             sync.Mutex
	queues         [spider.NumLegs][]jointSample
	holdTargets    [spider.NumLegs]kinematics.JointAngles
	seeded         bool
	lastAngles     [spider.NumLegs]kinematics.JointAngles
	lastCurrents   [spider.NumLegs][spider.MotorsPerLeg]float64
	lastPDErrors   [spider.NumLegs][spider.MotorsPerLeg]float64
	forceLeg       int
	desiredForce   r3.Vector
	forceFilters   [spider.NumLegs]*utils.VectorRollingMean
	filteredForces [spider.NumLegs]r3.Vector
	lastWriteErr   error
	closed         bool
}

// New enables torque on all legs and starts the control loop. The loop runs
// until Close.
func New(ctx context.Context, sp *spider.Spider, bus Bus, cfg Config, logger golog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	c := &Controller{
		sp:         sp,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		clk:        clk,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		forceLeg:   -1,
	}
	for leg := 0; leg < spider.NumLegs; leg++ {
		c.forceFilters[leg] = utils.NewVectorRollingMean(cfg.ForceFilterWindow)
	}

	if err := bus.EnableTorque(ctx, sp.LegIDs()); err != nil {
		cancelFunc()
		return nil, errors.Wrap(err, "cannot enable torque")
	}

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(c.controlLoop, c.activeBackgroundWorkers.Done)
	return c, nil
}

func (c *Controller) controlLoop() {
	ticker := c.clk.Ticker(c.cfg.PeriodDuration())
	defer ticker.Stop()
	for {
		select {
		case <-c.cancelCtx.Done():
			return
		case <-ticker.C:
			// A missed period is not caught up: the ticker drops
			// intermediate ticks and the loop proceeds immediately.
		}
		c.tick(c.cancelCtx)
	}
}

func (c *Controller) tick(ctx context.Context) {
	legIDs := c.sp.LegIDs()

	reading, err := c.bus.BatchRead(ctx, legIDs)
	if err != nil {
		c.logger.Errorw("batch read failed, skipping tick", "error", err)
		return
	}
	if len(reading.Angles) != spider.NumLegs || len(reading.Currents) != spider.NumLegs {
		c.logger.Errorw("short bus reading, skipping tick",
			"angles", len(reading.Angles), "currents", len(reading.Currents))
		return
	}

	period := c.cfg.Period()
	velocities := make([][spider.MotorsPerLeg]float64, spider.NumLegs)

	c.mu.Lock()
	for leg := range legIDs {
		c.lastAngles[leg] = reading.Angles[leg]
		c.lastCurrents[leg] = reading.Currents[leg]
	}
	if !c.seeded {
		c.holdTargets = c.lastAngles
		c.seeded = true
	}

	var targets [spider.NumLegs]jointSample
	for leg := 0; leg < spider.NumLegs; leg++ {
		if len(c.queues[leg]) == 0 {
			targets[leg] = jointSample{q: c.holdTargets[leg]}
			continue
		}
		next := c.queues[leg][0]
		c.queues[leg] = c.queues[leg][1:]
		c.holdTargets[leg] = next.q
		if next.sentinel {
			next.qd = [spider.MotorsPerLeg]float64{}
		}
		targets[leg] = next
	}

	c.updateMeasuredForces()
	if c.forceLeg >= 0 {
		c.applyForceOverride(&targets[c.forceLeg])
	}

	forceMode := c.forceLeg >= 0
	for leg := 0; leg < spider.NumLegs; leg++ {
		for j := 0; j < spider.MotorsPerLeg; j++ {
			e := targets[leg].q[j] - c.lastAngles[leg][j]
			cmd := c.cfg.KP*e + c.cfg.KD*(e-c.lastPDErrors[leg][j])/period + targets[leg].qd[j]
			if forceMode {
				cmd = utils.Clamp(cmd, -c.cfg.ForceModeVelocityLimit, c.cfg.ForceModeVelocityLimit)
			}
			velocities[leg][j] = cmd
			c.lastPDErrors[leg][j] = e
		}
	}
	c.mu.Unlock()

	if err := c.bus.BatchWrite(ctx, legIDs, velocities); err != nil {
		c.logger.Errorw("batch write failed, aborting queued motions", "error", err)
		c.mu.Lock()
		for leg := range c.queues {
			c.queues[leg] = nil
		}
		c.lastWriteErr = err
		c.mu.Unlock()
	}
}

// updateMeasuredForces refreshes the per-leg low-passed tip force estimates.
// Caller must hold c.mu.
func (c *Controller) updateMeasuredForces() {
	forces, err := dynamics.ForcesOnLegTips(c.sp, c.lastAngles, c.lastCurrents)
	if err != nil {
		c.logger.Debugw("tip force estimation failed", "error", err)
		return
	}
	for leg := 0; leg < spider.NumLegs; leg++ {
		c.forceFilters[leg].Add(forces[leg])
		c.filteredForces[leg] = c.forceFilters[leg].Mean()
	}
}

// applyForceOverride replaces the force-mode leg's position target with one
// offset along the force error. The offset is dropped, leaving the target
// unchanged with zero feed-forward, when it would over-extend the leg.
// Caller must hold c.mu.
func (c *Controller) applyForceOverride(target *jointSample) {
	leg := c.forceLeg
	tipBody := kinematics.BodyToLegTipForwardKinematics(c.sp, leg, target.q).Translation()
	forceError := c.desiredForce.Sub(c.filteredForces[leg])
	offsetTip := tipBody.Add(forceError.Mul(c.cfg.KPForce * c.cfg.Period()))

	legLocal := c.sp.Anchors[leg].Inverse().TransformPoint(offsetTip)
	if legLocal.Norm() > c.cfg.MaxLegExtension {
		target.qd = [spider.MotorsPerLeg]float64{}
		return
	}
	q, err := kinematics.LegInverseKinematics(c.sp.Legs, legLocal)
	if err != nil {
		c.logger.Debugw("force-mode target unreachable", "leg", leg, "error", err)
		target.qd = [spider.MotorsPerLeg]float64{}
		return
	}
	target.q = q
	target.qd = [spider.MotorsPerLeg]float64{}
	c.holdTargets[leg] = q
}

// SetForceMode regulates the given leg toward the desired tip force (body
// frame) instead of position tracking. Only one leg can be in force mode.
func (c *Controller) SetForceMode(legID int, desired r3.Vector) error {
	if legID < 0 || legID >= spider.NumLegs {
		return errors.Errorf("unknown leg %d", legID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceLeg = legID
	c.desiredForce = desired
	c.forceFilters[legID] = utils.NewVectorRollingMean(c.cfg.ForceFilterWindow)
	return nil
}

// StopForceMode returns the controller to pure position tracking.
func (c *Controller) StopForceMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceLeg = -1
}

// JointAngles returns the latest read joint angles for all legs.
func (c *Controller) JointAngles() [spider.NumLegs]kinematics.JointAngles {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAngles
}

// TipPositions returns the latest leg tip positions in the body frame.
func (c *Controller) TipPositions() [spider.NumLegs]r3.Vector {
	c.mu.Lock()
	angles := c.lastAngles
	c.mu.Unlock()
	return kinematics.BodyToLegTipPositions(c.sp, angles)
}

// MeasuredTipForces returns the latest filtered tip force estimates in the
// body frame.
func (c *Controller) MeasuredTipForces() [spider.NumLegs]r3.Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filteredForces
}

// LastWriteError returns the error that aborted the most recent motion, if
// any.
func (c *Controller) LastWriteError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWriteErr
}

// Close stops the control loop, zeroes all velocities and disables torque.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelFunc()
	c.activeBackgroundWorkers.Wait()

	legIDs := c.sp.LegIDs()
	var err error
	if writeErr := c.bus.BatchWrite(ctx, legIDs, make([][spider.MotorsPerLeg]float64, spider.NumLegs)); writeErr != nil {
		err = multierr.Append(err, errors.Wrap(writeErr, "cannot zero velocities"))
	}
	if disableErr := c.bus.DisableTorque(ctx, legIDs); disableErr != nil {
		err = multierr.Append(err, errors.Wrap(disableErr, "cannot disable torque"))
	}
	return err
}
