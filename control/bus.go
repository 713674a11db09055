// Package control implements the real-time velocity controller driving all
// legs from per-leg command queues, with an optional force-regulation submode.
package control

import (
	"context"

	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

// BusReading is one batched transaction's worth of joint state, parallel to
// the legIDs passed to BatchRead.
type BusReading struct {
	Angles   []kinematics.JointAngles
	Currents [][spider.MotorsPerLeg]float64
}

// Bus is the actuator bus the controller drives. One BatchRead or BatchWrite
// is a single bus transaction covering all given legs.
type Bus interface {
	BatchRead(ctx context.Context, legIDs []int) (BusReading, error)
	BatchWrite(ctx context.Context, legIDs []int, velocities [][spider.MotorsPerLeg]float64) error
	EnableTorque(ctx context.Context, legIDs []int) error
	DisableTorque(ctx context.Context, legIDs []int) error
}

// Frame identifies the coordinate frame a movement goal is expressed in.
type Frame int

const (
	// FrameLeg is the leg-base frame.
	FrameLeg Frame = iota
	// FrameBody is the body (spider) frame.
	FrameBody
	// FrameGlobal is the wall's global frame; goals in it need a body pose.
	FrameGlobal
)

// String implements fmt.Stringer.
func (f Frame) String() string {
	switch f {
	case FrameLeg:
		return "leg"
	case FrameBody:
		return "body"
	case FrameGlobal:
		return "global"
	default:
		return "unknown"
	}
}

func (f Frame) valid() bool {
	switch f {
	case FrameLeg, FrameBody, FrameGlobal:
		return true
	default:
		return false
	}
}
