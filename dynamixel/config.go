package dynamixel

import (
	"io"

	"github.com/pkg/errors"

	"github.com/gwp-robotics/wallspider/spider"
)

// Config describes the servo bus and per-joint calibration.
type Config struct {
	// SerialPath is the USB serial adapter device, e.g. /dev/ttyUSB0.
	SerialPath string `json:"serial_path"`
	// BaudRate of the RS-485 bus.
	BaudRate uint `json:"baud_rate"`

	// Directions flips a joint's sign (+1 or -1) so positive angles follow
	// the kinematic convention regardless of how the servo is mounted.
	Directions [spider.NumLegs][spider.MotorsPerLeg]float64 `json:"directions"`
	// Offsets are per-joint zero offsets in radians, added after the
	// direction flip.
	Offsets [spider.NumLegs][spider.MotorsPerLeg]float64 `json:"offsets"`

	// TestDevice substitutes an in-memory device for the serial port.
	TestDevice io.ReadWriteCloser `json:"-"`
}

// DefaultConfig returns the bus settings of the physical robot.
func DefaultConfig() Config {
	cfg := Config{BaudRate: 1000000}
	for leg := 0; leg < spider.NumLegs; leg++ {
		for j := 0; j < spider.MotorsPerLeg; j++ {
			cfg.Directions[leg][j] = 1
		}
	}
	return cfg
}

// Validate checks the config before the port is opened.
func (cfg Config) Validate() error {
	if cfg.SerialPath == "" && cfg.TestDevice == nil {
		return errors.New("serial_path is required")
	}
	if cfg.BaudRate == 0 {
		return errors.New("baud_rate must be positive")
	}
	for leg := 0; leg < spider.NumLegs; leg++ {
		for j := 0; j < spider.MotorsPerLeg; j++ {
			if d := cfg.Directions[leg][j]; d != 1 && d != -1 {
				return errors.Errorf("direction of leg %d joint %d must be +1 or -1, got %v", leg, j, d)
			}
		}
	}
	return nil
}

// MotorID returns the bus id of a joint's servo: leg i carries motors
// 10(i+1)+1 through 10(i+1)+3.
func MotorID(legID, jointID int) int {
	return 10*(legID+1) + jointID + 1
}

// motorLegJoint inverts MotorID.
func motorLegJoint(id int) (legID, jointID int, err error) {
	legID = id/10 - 1
	jointID = id%10 - 1
	if legID < 0 || legID >= spider.NumLegs || jointID < 0 || jointID >= spider.MotorsPerLeg {
		return 0, 0, errors.Errorf("dynamixel: id %d is not a leg servo", id)
	}
	return legID, jointID, nil
}
