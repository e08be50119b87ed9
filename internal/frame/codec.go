package frame

import (
	"codeberg.org/mutker/robotctl/internal/errors"
)

// Codec translates between logical joint order and physical actuator
// channels. The mapping table is static per robot model and comes from
// configuration; entry i names the physical channel of logical joint i.
type Codec struct {
	mapping []int
}

// DecodedState is the hardware state in logical joint order.
type DecodedState struct {
	Quaternion     [4]float64 // w, x, y, z
	Gyroscope      [3]float64
	Accelerometer  [3]float64
	Q              []float64
	Dq             []float64
	TauEst         []float64
	WirelessRemote [WirelessRemoteSize]byte
}

// NewCodec validates the joint mapping table and returns a codec for it.
func NewCodec(mapping []int) (*Codec, error) {
	errFactory := errors.New()

	if len(mapping) == 0 || len(mapping) > NumChannels {
		return nil, errFactory.WithData(ErrInvalidMapping, len(mapping))
	}

	seen := make(map[int]bool, len(mapping))
	for _, ch := range mapping {
		if ch < 0 || ch >= NumChannels {
			return nil, errFactory.WithData(ErrChannelRange, ch)
		}
		if seen[ch] {
			return nil, errFactory.WithData(ErrDuplicateChannel, ch)
		}
		seen[ch] = true
	}

	m := make([]int, len(mapping))
	copy(m, mapping)

	return &Codec{mapping: m}, nil
}

// NumJoints returns the number of logical joints the codec maps.
func (c *Codec) NumJoints() int {
	return len(c.mapping)
}

// EncodeCommand fills a command frame from per-joint targets given in logical
// order, enabling every mapped channel. All slices must have one entry per
// logical joint.
func (c *Codec) EncodeCommand(modePR, modeMachine uint8, q, dq, kp, kd, tau []float64) (*CommandFrame, error) {
	errFactory := errors.New()

	n := len(c.mapping)
	for _, s := range [][]float64{q, dq, kp, kd, tau} {
		if len(s) != n {
			return nil, errFactory.WithData(ErrCommandLength, len(s))
		}
	}

	f := &CommandFrame{
		ModePR:      modePR,
		ModeMachine: modeMachine,
	}
	for i, ch := range c.mapping {
		f.Motors[ch] = MotorCommand{
			Mode: MotorEnable,
			Q:    float32(q[i]),
			Dq:   float32(dq[i]),
			Kp:   float32(kp[i]),
			Kd:   float32(kd[i]),
			Tau:  float32(tau[i]),
		}
	}

	return f, nil
}

// NeutralCommand builds a frame with every channel enabled and all targets
// and gains zeroed. Published before the first policy output and on
// shutdown, with channels disabled in the latter case.
func (c *Codec) NeutralCommand(modePR, modeMachine, motorMode uint8) *CommandFrame {
	f := &CommandFrame{
		ModePR:      modePR,
		ModeMachine: modeMachine,
	}
	for ch := range f.Motors {
		f.Motors[ch].Mode = motorMode
	}

	return f
}

// DecodeState copies physical channel fields of a parsed state frame back
// into logical joint order.
func (c *Codec) DecodeState(f *StateFrame) *DecodedState {
	n := len(c.mapping)
	s := &DecodedState{
		Q:      make([]float64, n),
		Dq:     make([]float64, n),
		TauEst: make([]float64, n),
	}

	for i := range f.Quaternion {
		s.Quaternion[i] = float64(f.Quaternion[i])
	}
	for i := range f.Gyroscope {
		s.Gyroscope[i] = float64(f.Gyroscope[i])
	}
	for i := range f.Accelerometer {
		s.Accelerometer[i] = float64(f.Accelerometer[i])
	}
	for i, ch := range c.mapping {
		s.Q[i] = float64(f.Motors[ch].Q)
		s.Dq[i] = float64(f.Motors[ch].Dq)
		s.TauEst[i] = float64(f.Motors[ch].TauEst)
	}
	s.WirelessRemote = f.WirelessRemote

	return s
}
