package control

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Config holds the control loop gains and limits.
type Config struct {
	// Frequency is the control loop rate in Hz. The bus round trip must fit
	// inside one period or the loop free-runs behind schedule.
	Frequency float64 `json:"frequency"`

	// Position tracking gains.
	KP float64 `json:"kp"`
	KD float64 `json:"kd"`

	// Force regulation gain and filter window.
	KPForce           float64 `json:"kp_force"`
	ForceFilterWindow int     `json:"force_filter_window"`

	// ForceModeVelocityLimit clamps per-joint commands in rad/s while force
	// mode is active.
	ForceModeVelocityLimit float64 `json:"force_mode_velocity_limit"`

	// MaxLegExtension is the leg-local tip distance beyond which a
	// force-mode offset is discarded.
	MaxLegExtension float64 `json:"max_leg_extension"`

	// Clock is a test hook; the wall clock is used when nil.
	Clock clock.Clock `json:"-"`
}

// DefaultConfig returns the gains tuned on the physical robot.
func DefaultConfig() Config {
	return Config{
		Frequency:              70.0,
		KP:                     25.0,
		KD:                     1.8,
		KPForce:                0.03,
		ForceFilterWindow:      10,
		ForceModeVelocityLimit: 1.0,
		MaxLegExtension:        0.6,
	}
}

// Validate checks the config for values that would destabilize the loop.
func (cfg Config) Validate() error {
	if cfg.Frequency <= 0 {
		return errors.New("frequency must be positive")
	}
	if cfg.KP < 0 || cfg.KD < 0 || cfg.KPForce < 0 {
		return errors.New("gains must be non-negative")
	}
	if cfg.ForceFilterWindow <= 0 {
		return errors.New("force_filter_window must be positive")
	}
	if cfg.ForceModeVelocityLimit <= 0 {
		return errors.New("force_mode_velocity_limit must be positive")
	}
	if cfg.MaxLegExtension <= 0 {
		return errors.New("max_leg_extension must be positive")
	}
	return nil
}

// Period returns the control period in seconds.
func (cfg Config) Period() float64 {
	return 1.0 / cfg.Frequency
}

// PeriodDuration returns the control period as a time.Duration.
func (cfg Config) PeriodDuration() time.Duration {
	return time.Duration(float64(time.Second) / cfg.Frequency)
}
