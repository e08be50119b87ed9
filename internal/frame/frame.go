// Package frame builds and parses the fixed-layout frames exchanged with the
// robot over the hardware bus. Byte layout and checksum are a hard
// compatibility contract with the firmware; this package performs no I/O.
package frame

import (
	"encoding/binary"
	"math"

	"codeberg.org/mutker/robotctl/internal/errors"
)

const (
	// NumChannels is the number of physical actuator channels in a frame,
	// independent of how many joints the policy controls.
	NumChannels = 32

	// WirelessRemoteSize is the size of the raw gamepad byte blob carried
	// inside every state frame.
	WirelessRemoteSize = 40

	motorCommandSize = 24 // mode byte + padding + 5 float32 fields
	motorStateSize   = 12 // 3 float32 fields

	// CommandFrameSize is the wire size of a command frame in bytes.
	CommandFrameSize = 4 + NumChannels*motorCommandSize + 4

	// StateFrameSize is the wire size of a state frame in bytes.
	StateFrameSize = 40 + NumChannels*motorStateSize + WirelessRemoteSize + 4
)

const (
	// MotorEnable commands a channel to track its targets.
	MotorEnable uint8 = 1
	// MotorDisable leaves a channel passive.
	MotorDisable uint8 = 0
)

// MotorCommand is the per-channel slot of a command frame.
type MotorCommand struct {
	Mode uint8
	Q    float32
	Dq   float32
	Kp   float32
	Kd   float32
	Tau  float32
}

// MotorState is the per-channel slot of a state frame.
type MotorState struct {
	Q      float32
	Dq     float32
	TauEst float32
}

// CommandFrame is the full actuator command published each control tick.
type CommandFrame struct {
	ModePR      uint8
	ModeMachine uint8
	Motors      [NumChannels]MotorCommand
	CRC         uint32
}

// StateFrame is the full hardware state received from the robot.
type StateFrame struct {
	Quaternion     [4]float32 // w, x, y, z
	Gyroscope      [3]float32
	Accelerometer  [3]float32
	Motors         [NumChannels]MotorState
	WirelessRemote [WirelessRemoteSize]byte
	CRC            uint32
}

// Marshal serializes the command frame, computing and embedding the checksum
// over all words preceding the trailing CRC word.
func (f *CommandFrame) Marshal() []byte {
	buf := make([]byte, CommandFrameSize)
	buf[0] = f.ModePR
	buf[1] = f.ModeMachine

	off := 4
	for i := range f.Motors {
		m := &f.Motors[i]
		buf[off] = m.Mode
		putFloat32(buf[off+4:], m.Q)
		putFloat32(buf[off+8:], m.Dq)
		putFloat32(buf[off+12:], m.Kp)
		putFloat32(buf[off+16:], m.Kd)
		putFloat32(buf[off+20:], m.Tau)
		off += motorCommandSize
	}

	f.CRC = checksumBytes(buf)
	binary.LittleEndian.PutUint32(buf[off:], f.CRC)

	return buf
}

// UnmarshalCommand parses a command frame and verifies its checksum. Used by
// simulation and tests; the robot side is the normal consumer.
func UnmarshalCommand(buf []byte) (*CommandFrame, error) {
	errFactory := errors.New()

	if len(buf) != CommandFrameSize {
		return nil, errFactory.WithData(ErrFrameLength, len(buf))
	}
	if crc := binary.LittleEndian.Uint32(buf[CommandFrameSize-4:]); crc != checksumBytes(buf) {
		return nil, errFactory.New(ErrChecksum)
	}

	f := &CommandFrame{
		ModePR:      buf[0],
		ModeMachine: buf[1],
		CRC:         binary.LittleEndian.Uint32(buf[CommandFrameSize-4:]),
	}

	off := 4
	for i := range f.Motors {
		f.Motors[i] = MotorCommand{
			Mode: buf[off],
			Q:    getFloat32(buf[off+4:]),
			Dq:   getFloat32(buf[off+8:]),
			Kp:   getFloat32(buf[off+12:]),
			Kd:   getFloat32(buf[off+16:]),
			Tau:  getFloat32(buf[off+20:]),
		}
		off += motorCommandSize
	}

	return f, nil
}

// Marshal serializes the state frame with an embedded checksum. Used by
// simulation and tests; the robot firmware is the normal producer.
func (f *StateFrame) Marshal() []byte {
	buf := make([]byte, StateFrameSize)

	off := 0
	for i := range f.Quaternion {
		putFloat32(buf[off:], f.Quaternion[i])
		off += 4
	}
	for i := range f.Gyroscope {
		putFloat32(buf[off:], f.Gyroscope[i])
		off += 4
	}
	for i := range f.Accelerometer {
		putFloat32(buf[off:], f.Accelerometer[i])
		off += 4
	}
	for i := range f.Motors {
		m := &f.Motors[i]
		putFloat32(buf[off:], m.Q)
		putFloat32(buf[off+4:], m.Dq)
		putFloat32(buf[off+8:], m.TauEst)
		off += motorStateSize
	}
	copy(buf[off:], f.WirelessRemote[:])
	off += WirelessRemoteSize

	f.CRC = checksumBytes(buf)
	binary.LittleEndian.PutUint32(buf[off:], f.CRC)

	return buf
}

// UnmarshalState parses a state frame, verifying length and checksum. A
// malformed frame yields a protocol error; the caller keeps its prior state.
func UnmarshalState(buf []byte) (*StateFrame, error) {
	errFactory := errors.New()

	if len(buf) != StateFrameSize {
		return nil, errFactory.WithData(ErrFrameLength, len(buf))
	}
	if crc := binary.LittleEndian.Uint32(buf[StateFrameSize-4:]); crc != checksumBytes(buf) {
		return nil, errFactory.New(ErrChecksum)
	}

	f := &StateFrame{}

	off := 0
	for i := range f.Quaternion {
		f.Quaternion[i] = getFloat32(buf[off:])
		off += 4
	}
	for i := range f.Gyroscope {
		f.Gyroscope[i] = getFloat32(buf[off:])
		off += 4
	}
	for i := range f.Accelerometer {
		f.Accelerometer[i] = getFloat32(buf[off:])
		off += 4
	}
	for i := range f.Motors {
		f.Motors[i] = MotorState{
			Q:      getFloat32(buf[off:]),
			Dq:     getFloat32(buf[off+4:]),
			TauEst: getFloat32(buf[off+8:]),
		}
		off += motorStateSize
	}
	copy(f.WirelessRemote[:], buf[off:off+WirelessRemoteSize])
	off += WirelessRemoteSize
	f.CRC = binary.LittleEndian.Uint32(buf[off:])

	return f, nil
}

func putFloat32(buf []byte, v float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
}

func getFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}
