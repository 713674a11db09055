package dynamixel

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Protocol 2.0 instructions.
const (
	instPing      = 0x01
	instRead      = 0x02
	instWrite     = 0x03
	instSyncRead  = 0x82
	instSyncWrite = 0x83
	instStatus    = 0x55
)

// Control table addresses (XM430).
const (
	regOperatingMode       = 11
	regTorqueEnable        = 64
	regLED                 = 65
	regHardwareErrorStatus = 70
	regPositionDGain       = 80
	regPositionIGain       = 82
	regPositionPGain       = 84
	regGoalVelocity        = 104
	regProfileAcceleration = 108
	regProfileVelocity     = 112
	regPresentCurrent      = 126
	regPresentPosition     = 132
	regInputVoltage        = 144
	regTemperature         = 146
)

// presentBlockLen covers present current (2), velocity (4) and position (4)
// as one contiguous read starting at regPresentCurrent.
const presentBlockLen = 10

var (
	// ErrBadCRC is returned when a status packet fails its checksum.
	ErrBadCRC = errors.New("dynamixel: bad status packet CRC")
	// ErrTimeout is returned when a motor does not answer in time.
	ErrTimeout = errors.New("dynamixel: response timeout")

	errNeedMoreData = errors.New("dynamixel: incomplete packet")
)

// crc16 is the CRC-16 used by Protocol 2.0 (poly 0x8005, init 0, MSB first).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// buildPacket frames one instruction packet, byte-stuffing the instruction
// and parameter region so the header pattern cannot appear inside it.
func buildPacket(id, inst byte, params []byte) []byte {
	body := stuff(append([]byte{inst}, params...))
	length := len(body) + 2 // plus CRC

	pkt := make([]byte, 0, 7+length)
	pkt = append(pkt, 0xFF, 0xFF, 0xFD, 0x00, id, byte(length), byte(length>>8))
	pkt = append(pkt, body...)
	crc := crc16(pkt)
	return append(pkt, byte(crc), byte(crc>>8))
}

// stuff inserts 0xFD after every FF FF FD run.
func stuff(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for _, b := range body {
		out = append(out, b)
		n := len(out)
		if n >= 3 && out[n-3] == 0xFF && out[n-2] == 0xFF && out[n-1] == 0xFD {
			out = append(out, 0xFD)
		}
	}
	return out
}

// destuff reverses stuff: FF FF FD FD collapses to FF FF FD.
func destuff(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		out = append(out, body[i])
		n := len(out)
		if n >= 3 && out[n-3] == 0xFF && out[n-2] == 0xFF && out[n-1] == 0xFD &&
			i+1 < len(body) && body[i+1] == 0xFD {
			i++ // skip the stuffing byte
		}
	}
	return out
}

// statusPacket is a parsed status response.
type statusPacket struct {
	id      byte
	errByte byte
	params  []byte
}

// parseStatus scans buf for one status packet. It returns the packet, the
// number of bytes consumed, and an error; errNeedMoreData means the caller
// should read more bytes and retry with consumed bytes dropped.
func parseStatus(buf []byte) (*statusPacket, int, error) {
	h := -1
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xFF && buf[i+2] == 0xFD && buf[i+3] == 0x00 {
			h = i
			break
		}
	}
	if h < 0 {
		// Keep a possible partial header at the tail.
		keep := len(buf)
		if keep > 3 {
			keep = 3
		}
		return nil, len(buf) - keep, errNeedMoreData
	}
	if len(buf)-h < 7 {
		return nil, h, errNeedMoreData
	}
	length := int(binary.LittleEndian.Uint16(buf[h+5 : h+7]))
	total := h + 7 + length
	if length < 4 || len(buf) < total {
		if length < 4 {
			return nil, h + 4, errors.Errorf("dynamixel: impossible packet length %d", length)
		}
		return nil, h, errNeedMoreData
	}

	want := crc16(buf[h : total-2])
	got := binary.LittleEndian.Uint16(buf[total-2 : total])
	if want != got {
		return nil, total, errors.Wrapf(ErrBadCRC, "want %04x got %04x", want, got)
	}

	body := destuff(buf[h+7 : total-2])
	if body[0] != instStatus {
		return nil, total, errors.Errorf("dynamixel: unexpected instruction 0x%02x in response", body[0])
	}
	if len(body) < 2 {
		return nil, total, errors.New("dynamixel: status packet without error byte")
	}
	return &statusPacket{id: buf[h+4], errByte: body[1], params: body[2:]}, total, nil
}

// Hardware error status register bits.
const (
	hwErrInputVoltage    = 1 << 0
	hwErrOverheating     = 1 << 2
	hwErrEncoder         = 1 << 3
	hwErrElectricalShock = 1 << 4
	hwErrOverload        = 1 << 5
)

// HardwareError reports a latched motor fault. The motor rejects commands
// until it is rebooted.
type HardwareError struct {
	MotorID int
	Status  byte
}

func (e *HardwareError) Error() string {
	conditions := ""
	for _, c := range []struct {
		bit  byte
		name string
	}{
		{hwErrInputVoltage, " input-voltage"},
		{hwErrOverheating, " overheating"},
		{hwErrEncoder, " encoder"},
		{hwErrElectricalShock, " electrical-shock"},
		{hwErrOverload, " overload"},
	} {
		if e.Status&c.bit != 0 {
			conditions += c.name
		}
	}
	if conditions == "" {
		conditions = " unknown"
	}
	return fmt.Sprintf("dynamixel: motor %d hardware fault:%s", e.MotorID, conditions)
}
