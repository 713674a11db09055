// Package dynamixel drives the leg servos over a Protocol 2.0 RS-485 bus.
package dynamixel

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gwp-robotics/wallspider/control"
	"github.com/gwp-robotics/wallspider/kinematics"
	"github.com/gwp-robotics/wallspider/spider"
)

// Servo unit conversions (XM430).
const (
	radPerTick      = 2 * math.Pi / 4096
	centerTick      = 2048
	ampsPerLSB      = 0.00269
	radPerSecPerLSB = 0.229 * 2 * math.Pi / 60

	velocityOperatingMode = 1

	// Tuning written at startup.
	defaultProfileAcceleration = 100
	defaultProfileVelocity     = 300
	defaultPositionPGain       = 2000
	defaultPositionIGain       = 200
	defaultPositionDGain       = 80
)

// Bus talks Protocol 2.0 to all leg servos over one serial adapter. It
// implements control.Bus. One mutex serializes bus transactions.
type Bus struct {
	cfg    Config
	logger golog.Logger

	mu     sync.Mutex
	device io.ReadWriteCloser
	rxBuf  []byte
}

// New opens the bus, pings every servo and applies the operating mode and
// tuning registers. Torque stays disabled until EnableTorque.
func New(ctx context.Context, cfg Config, logger golog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	device := cfg.TestDevice
	if device == nil {
		options := serial.OpenOptions{
			PortName:              cfg.SerialPath,
			BaudRate:              cfg.BaudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       0,
			InterCharacterTimeout: 100,
		}
		var err error
		device, err = serial.Open(options)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open dynamixel bus at %s", cfg.SerialPath)
		}
	}

	b := &Bus{cfg: cfg, logger: logger, device: device}
	if err := b.setup(ctx); err != nil {
		return nil, multierr.Combine(err, device.Close())
	}
	return b, nil
}

func (b *Bus) setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for leg := 0; leg < spider.NumLegs; leg++ {
		for j := 0; j < spider.MotorsPerLeg; j++ {
			id := MotorID(leg, j)
			if err := b.ping(ctx, id); err != nil {
				return errors.Wrapf(err, "motor %d did not answer ping", id)
			}
			// Mode changes require torque off.
			if err := b.writeRegister(ctx, id, regTorqueEnable, []byte{0}); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regOperatingMode, []byte{velocityOperatingMode}); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regProfileAcceleration, le32(defaultProfileAcceleration)); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regProfileVelocity, le32(defaultProfileVelocity)); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regPositionPGain, le16(defaultPositionPGain)); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regPositionIGain, le16(defaultPositionIGain)); err != nil {
				return err
			}
			if err := b.writeRegister(ctx, id, regPositionDGain, le16(defaultPositionDGain)); err != nil {
				return err
			}
		}
	}
	return nil
}

// BatchRead reads the present current/velocity/position block of every servo
// of the given legs in one SyncRead transaction.
func (b *Bus) BatchRead(ctx context.Context, legIDs []int) (control.BusReading, error) {
	ids := motorIDs(legIDs)
	params := make([]byte, 0, 4+len(ids))
	params = append(params, le16(regPresentCurrent)...)
	params = append(params, le16(presentBlockLen)...)
	for _, id := range ids {
		params = append(params, byte(id))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(0xFE, instSyncRead, params); err != nil {
		return control.BusReading{}, err
	}

	reading := control.BusReading{
		Angles:   make([]kinematics.JointAngles, len(legIDs)),
		Currents: make([][spider.MotorsPerLeg]float64, len(legIDs)),
	}
	slot := make(map[int]int, len(legIDs))
	for i, leg := range legIDs {
		slot[leg] = i
	}

	// A motor with a latched fault flags its response. The fault is expanded
	// only after all expected responses are consumed, so the follow-up
	// register read does not collide with packets still in flight.
	alerted := byte(0)
	haveAlert := false
	for range ids {
		pkt, err := b.readStatus(ctx)
		if err != nil {
			return control.BusReading{}, err
		}
		if pkt.errByte&0x80 != 0 {
			if !haveAlert {
				alerted, haveAlert = pkt.id, true
			}
			continue
		}
		if pkt.errByte != 0 {
			return control.BusReading{}, b.statusError(ctx, pkt)
		}
		if len(pkt.params) < presentBlockLen {
			return control.BusReading{}, errors.Errorf("dynamixel: short present block from motor %d", pkt.id)
		}
		leg, joint, err := motorLegJoint(int(pkt.id))
		if err != nil {
			return control.BusReading{}, err
		}
		i, ok := slot[leg]
		if !ok {
			return control.BusReading{}, errors.Errorf("dynamixel: unexpected response from motor %d", pkt.id)
		}

		direction := b.cfg.Directions[leg][joint]
		current := int16(binary.LittleEndian.Uint16(pkt.params[0:2]))
		position := int32(binary.LittleEndian.Uint32(pkt.params[6:10]))
		reading.Currents[i][joint] = direction * float64(current) * ampsPerLSB
		reading.Angles[i][joint] = direction*float64(position-centerTick)*radPerTick + b.cfg.Offsets[leg][joint]
	}
	if haveAlert {
		return control.BusReading{}, b.expandHardwareFault(ctx, alerted)
	}
	return reading, nil
}

// BatchWrite commands goal velocities (rad/s) for every servo of the given
// legs in one SyncWrite transaction. SyncWrite has no status response.
func (b *Bus) BatchWrite(ctx context.Context, legIDs []int, velocities [][spider.MotorsPerLeg]float64) error {
	if len(velocities) != len(legIDs) {
		return errors.Errorf("dynamixel: %d legs but %d velocity sets", len(legIDs), len(velocities))
	}

	params := make([]byte, 0, 4+5*len(legIDs)*spider.MotorsPerLeg)
	params = append(params, le16(regGoalVelocity)...)
	params = append(params, le16(4)...)
	for i, leg := range legIDs {
		if leg < 0 || leg >= spider.NumLegs {
			return errors.Errorf("dynamixel: unknown leg %d", leg)
		}
		for j := 0; j < spider.MotorsPerLeg; j++ {
			raw := int32(math.Round(b.cfg.Directions[leg][j] * velocities[i][j] / radPerSecPerLSB))
			params = append(params, byte(MotorID(leg, j)))
			params = append(params, le32(uint32(raw))...)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send(0xFE, instSyncWrite, params)
}

// EnableTorque turns on torque for every servo of the given legs.
func (b *Bus) EnableTorque(ctx context.Context, legIDs []int) error {
	return b.writeTorque(ctx, legIDs, 1)
}

// DisableTorque turns off torque for every servo of the given legs.
func (b *Bus) DisableTorque(ctx context.Context, legIDs []int) error {
	return b.writeTorque(ctx, legIDs, 0)
}

func (b *Bus) writeTorque(ctx context.Context, legIDs []int, value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, leg := range legIDs {
		if leg < 0 || leg >= spider.NumLegs {
			return errors.Errorf("dynamixel: unknown leg %d", leg)
		}
		for j := 0; j < spider.MotorsPerLeg; j++ {
			if err := b.writeRegister(ctx, MotorID(leg, j), regTorqueEnable, []byte{value}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the serial device. Torque state is left as-is; the controller
// disables torque before closing the bus.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device.Close()
}

// ping checks a single motor is alive. Caller must hold b.mu.
func (b *Bus) ping(ctx context.Context, id int) error {
	if err := b.send(byte(id), instPing, nil); err != nil {
		return err
	}
	pkt, err := b.readStatus(ctx)
	if err != nil {
		return err
	}
	return b.checkStatusError(ctx, pkt)
}

// writeRegister writes a register of one motor and consumes the status
// response. Caller must hold b.mu.
func (b *Bus) writeRegister(ctx context.Context, id, reg int, data []byte) error {
	params := append(le16(uint16(reg)), data...)
	if err := b.send(byte(id), instWrite, params); err != nil {
		return err
	}
	pkt, err := b.readStatus(ctx)
	if err != nil {
		return errors.Wrapf(err, "writing register %d of motor %d", reg, id)
	}
	return b.checkStatusError(ctx, pkt)
}

// readRegister reads a register of one motor. Caller must hold b.mu.
func (b *Bus) readRegister(ctx context.Context, id, reg, length int) ([]byte, error) {
	params := append(le16(uint16(reg)), le16(uint16(length))...)
	if err := b.send(byte(id), instRead, params); err != nil {
		return nil, err
	}
	pkt, err := b.readStatus(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading register %d of motor %d", reg, id)
	}
	if pkt.errByte != 0 {
		return nil, b.statusError(ctx, pkt)
	}
	if len(pkt.params) < length {
		return nil, errors.Errorf("dynamixel: short read of register %d from motor %d", reg, id)
	}
	return pkt.params[:length], nil
}

func (b *Bus) send(id, inst byte, params []byte) error {
	// Stale bytes from an aborted transaction must not shift packet framing.
	b.rxBuf = b.rxBuf[:0]
	pkt := buildPacket(id, inst, params)
	if _, err := b.device.Write(pkt); err != nil {
		return errors.Wrap(err, "dynamixel: bus write failed")
	}
	return nil
}

// readStatus reads from the device until one full status packet parses.
// Caller must hold b.mu.
func (b *Bus) readStatus(ctx context.Context) (*statusPacket, error) {
	tmp := make([]byte, 256)
	emptyReads := 0
	for {
		pkt, consumed, err := parseStatus(b.rxBuf)
		b.rxBuf = b.rxBuf[consumed:]
		if err == nil {
			return pkt, nil
		}
		if !errors.Is(err, errNeedMoreData) {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, readErr := b.device.Read(tmp)
		if n > 0 {
			b.rxBuf = append(b.rxBuf, tmp[:n]...)
			emptyReads = 0
			continue
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, errors.Wrap(readErr, "dynamixel: bus read failed")
		}
		// The port's inter-character timeout already bounds each empty read.
		emptyReads++
		if emptyReads >= 5 {
			return nil, ErrTimeout
		}
	}
}

// checkStatusError maps a status packet's error byte to a typed error. A
// latched hardware alert is expanded by reading the hardware error status
// register. Caller must hold b.mu.
func (b *Bus) checkStatusError(ctx context.Context, pkt *statusPacket) error {
	if pkt.errByte == 0 {
		return nil
	}
	return b.statusError(ctx, pkt)
}

func (b *Bus) statusError(ctx context.Context, pkt *statusPacket) error {
	if pkt.errByte&0x80 != 0 {
		return b.expandHardwareFault(ctx, pkt.id)
	}
	return errors.Errorf("dynamixel: motor %d rejected the instruction (error 0x%02x)", pkt.id, pkt.errByte)
}

// expandHardwareFault reads the hardware error status of a faulted motor.
// The follow-up read's own error byte is ignored: a faulted motor flags
// every response. Caller must hold b.mu.
func (b *Bus) expandHardwareFault(ctx context.Context, id byte) error {
	hw := &HardwareError{MotorID: int(id)}
	params := append(le16(regHardwareErrorStatus), le16(1)...)
	if err := b.send(id, instRead, params); err == nil {
		if resp, readErr := b.readStatus(ctx); readErr == nil && len(resp.params) >= 1 {
			hw.Status = resp.params[0]
		} else if readErr != nil {
			b.logger.Errorw("cannot read hardware error status", "motor", id, "error", readErr)
		}
	}
	return hw
}

// Voltage reads a motor's input voltage in volts.
func (b *Bus) Voltage(ctx context.Context, motorID int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.readRegister(ctx, motorID, regInputVoltage, 2)
	if err != nil {
		return 0, err
	}
	return float64(binary.LittleEndian.Uint16(data)) * 0.1, nil
}

// Temperature reads a motor's internal temperature in degrees Celsius.
func (b *Bus) Temperature(ctx context.Context, motorID int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.readRegister(ctx, motorID, regTemperature, 1)
	if err != nil {
		return 0, err
	}
	return float64(data[0]), nil
}

func motorIDs(legIDs []int) []int {
	ids := make([]int, 0, len(legIDs)*spider.MotorsPerLeg)
	for _, leg := range legIDs {
		for j := 0; j < spider.MotorsPerLeg; j++ {
			ids = append(ids, MotorID(leg, j))
		}
	}
	return ids
}

func le16(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}

func le32(v uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out
}
