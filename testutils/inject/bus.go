// Package inject provides injectable fakes for tests.
package inject

import (
	"context"

	"github.com/gwp-robotics/wallspider/control"
	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

// Bus is an injected actuator bus. Nil function fields fall back to benign
// defaults so tests only set what they assert.
type Bus struct {
	BatchReadFunc     func(ctx context.Context, legIDs []int) (control.BusReading, error)
	BatchWriteFunc    func(ctx context.Context, legIDs []int, velocities [][spider.MotorsPerLeg]float64) error
	EnableTorqueFunc  func(ctx context.Context, legIDs []int) error
	DisableTorqueFunc func(ctx context.Context, legIDs []int) error
}

// BatchRead calls the injected BatchRead or returns a zero reading.
func (b *Bus) BatchRead(ctx context.Context, legIDs []int) (control.BusReading, error) {
	if b.BatchReadFunc == nil {
		return control.BusReading{
			Angles:   make([]kinematics.JointAngles, len(legIDs)),
			Currents: make([][spider.MotorsPerLeg]float64, len(legIDs)),
		}, nil
	}
	return b.BatchReadFunc(ctx, legIDs)
}

// BatchWrite calls the injected BatchWrite or succeeds.
func (b *Bus) BatchWrite(ctx context.Context, legIDs []int, velocities [][spider.MotorsPerLeg]float64) error {
	if b.BatchWriteFunc == nil {
		return nil
	}
	return b.BatchWriteFunc(ctx, legIDs, velocities)
}

// EnableTorque calls the injected EnableTorque or succeeds.
func (b *Bus) EnableTorque(ctx context.Context, legIDs []int) error {
	if b.EnableTorqueFunc == nil {
		return nil
	}
	return b.EnableTorqueFunc(ctx, legIDs)
}

// DisableTorque calls the injected DisableTorque or succeeds.
func (b *Bus) DisableTorque(ctx context.Context, legIDs []int) error {
	if b.DisableTorqueFunc == nil {
		return nil
	}
	return b.DisableTorqueFunc(ctx, legIDs)
}
