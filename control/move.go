package control

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spatialmath"
	"github.com/gwp-robotics/wallspider/spider"
	"github.com/gwp-robotics/wallspider/trajectory"
)

// MoveLegAsync queues a movement for one leg and returns immediately. The
// goal is a position in the given frame, or a displacement when offset is
// true; FrameGlobal goals need the current body pose. Any samples still
// queued for the leg are discarded: replacing the queue is the cancellation
// primitive, the loop never executes stale entries.
func (c *Controller) MoveLegAsync(
	ctx context.Context,
	legID int,
	goal r3.Vector,
	frame Frame,
	duration float64,
	trajType trajectory.Type,
	bodyPose *spatialmath.Pose,
	offset bool,
) error {
	samples, err := c.planLegMotion(ctx, legID, goal, frame, duration, trajType, bodyPose, offset)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.swapQueue(legID, samples)
	c.mu.Unlock()
	return nil
}

// MoveLegsSync queues a coordinated movement for several legs. All queues are
// computed first and swapped under one lock acquisition, so every leg starts
// on the same control tick. Moving all legs toward fixed global footholds
// with the goal body pose moves the body while the tips hold their pins.
func (c *Controller) MoveLegsSync(
	ctx context.Context,
	legIDs []int,
	goals []r3.Vector,
	frame Frame,
	duration float64,
	trajType trajectory.Type,
	bodyPose *spatialmath.Pose,
) error {
	if len(legIDs) == 0 {
		return errors.New("no legs given")
	}
	if len(legIDs) != len(goals) {
		return errors.Errorf("legIDs and goals length mismatch: %d vs %d", len(legIDs), len(goals))
	}

	planned := make([][]jointSample, len(legIDs))
	for i, legID := range legIDs {
		samples, err := c.planLegMotion(ctx, legID, goals[i], frame, duration, trajType, bodyPose, false)
		if err != nil {
			return errors.Wrapf(err, "leg %d", legID)
		}
		planned[i] = samples
	}

	c.mu.Lock()
	for i, legID := range legIDs {
		c.swapQueue(legID, planned[i])
	}
	c.mu.Unlock()
	return nil
}

// swapQueue atomically replaces a leg's queue and resets its PD history.
// Caller must hold c.mu.
func (c *Controller) swapQueue(legID int, samples []jointSample) {
	c.queues[legID] = samples
	c.lastPDErrors[legID] = [spider.MotorsPerLeg]float64{}
}

// planLegMotion resolves the goal into the leg-base frame, generates the tip
// trajectory and maps it to joint space. All of it runs on the caller's
// goroutine; only the current-angle snapshot touches shared state.
func (c *Controller) planLegMotion(
	ctx context.Context,
	legID int,
	goal r3.Vector,
	frame Frame,
	duration float64,
	trajType trajectory.Type,
	bodyPose *spatialmath.Pose,
	offset bool,
) ([]jointSample, error) {
	if legID < 0 || legID >= spider.NumLegs {
		return nil, errors.Errorf("unknown leg %d", legID)
	}
	if !frame.valid() {
		return nil, errors.Errorf("unknown frame %d", int(frame))
	}
	if frame == FrameGlobal && bodyPose == nil {
		return nil, errors.New("global-frame goals need the current body pose")
	}

	current, err := c.currentAngles(ctx, legID)
	if err != nil {
		return nil, err
	}
	startLocal := kinematics.LegForwardKinematics(c.sp.Legs, current).Translation()

	goalLocal, err := c.resolveGoal(legID, startLocal, goal, frame, bodyPose, offset)
	if err != nil {
		return nil, err
	}

	traj, err := trajectory.Generate(trajType, startLocal, goalLocal, duration, c.cfg.Period())
	if err != nil {
		return nil, err
	}
	return c.mapToJointSpace(legID, traj)
}

func (c *Controller) resolveGoal(
	legID int,
	startLocal, goal r3.Vector,
	frame Frame,
	bodyPose *spatialmath.Pose,
	offset bool,
) (r3.Vector, error) {
	anchor := c.sp.Anchors[legID]
	switch frame {
	case FrameLeg:
		if offset {
			return startLocal.Add(goal), nil
		}
		return goal, nil
	case FrameBody:
		goalBody := goal
		if offset {
			goalBody = anchor.TransformPoint(startLocal).Add(goal)
		}
		return anchor.Inverse().TransformPoint(goalBody), nil
	case FrameGlobal:
		anchorInGlobal := bodyPose.Transform().Compose(anchor)
		goalGlobal := goal
		if offset {
			goalGlobal = anchorInGlobal.TransformPoint(startLocal).Add(goal)
		}
		return anchorInGlobal.Inverse().TransformPoint(goalGlobal), nil
	default:
		return r3.Vector{}, errors.Errorf("unknown frame %d", int(frame))
	}
}

// currentAngles snapshots a leg's joint angles, falling back to a direct bus
// read before the loop has seeded the cache.
func (c *Controller) currentAngles(ctx context.Context, legID int) (kinematics.JointAngles, error) {
	c.mu.Lock()
	seeded := c.seeded
	angles := c.lastAngles[legID]
	c.mu.Unlock()
	if seeded {
		return angles, nil
	}

	reading, err := c.bus.BatchRead(ctx, []int{legID})
	if err != nil {
		return kinematics.JointAngles{}, errors.Wrapf(err, "cannot read starting angles of leg %d", legID)
	}
	if len(reading.Angles) != 1 {
		return kinematics.JointAngles{}, errors.Errorf("short bus reading for leg %d", legID)
	}
	return reading.Angles[0], nil
}

// mapToJointSpace converts a tip trajectory into joint angles and joint
// velocities via inverse kinematics and the leg Jacobian, appending the
// end-of-motion sentinel.
func (c *Controller) mapToJointSpace(legID int, traj trajectory.Trajectory) ([]jointSample, error) {
	samples := make([]jointSample, 0, len(traj)+1)
	var velocity mat.VecDense
	for i, point := range traj {
		q, err := kinematics.LegInverseKinematics(c.sp.Legs, point.Position)
		if err != nil {
			return nil, errors.Wrapf(err, "trajectory sample %d of leg %d", i, legID)
		}
		jacobian := kinematics.LegJacobian(c.sp.Legs, q)
		tipVelocity := mat.NewVecDense(3, []float64{point.Velocity.X, point.Velocity.Y, point.Velocity.Z})
		if err := velocity.SolveVec(jacobian, tipVelocity); err != nil {
			return nil, errors.Wrapf(err, "singular Jacobian at sample %d of leg %d", i, legID)
		}
		samples = append(samples, jointSample{
			q:  q,
			qd: [spider.MotorsPerLeg]float64{velocity.AtVec(0), velocity.AtVec(1), velocity.AtVec(2)},
		})
	}
	samples = append(samples, jointSample{q: samples[len(samples)-1].q, sentinel: true})
	return samples, nil
}
