package frame_test

import (
	"encoding/binary"
	"testing"

	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumReferenceVectors(t *testing.T) {
	// Reference values computed independently for the firmware CRC
	// (poly 0x04C11DB7, init 0xFFFFFFFF, MSB-first, no final XOR).
	tests := []struct {
		name  string
		words []uint32
		want  uint32
	}{
		{"single zero word", []uint32{0}, 0xC704DD7B},
		{"four zero words", []uint32{0, 0, 0, 0}, 0x552D22C8},
		{"eight zero words", make([]uint32, 8), 0x4A55AF67},
		{"single nonzero word", []uint32{0xDEADBEEF}, 0x81DA1A18},
		{"mixed pattern", []uint32{0x12345678, 0x9ABCDEF0, 0x00000001}, 0x1AB42B88},
		{"ascending sequence", []uint32{1, 2, 3, 4, 5, 6, 7, 8}, 0x0A69FA44},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frame.Checksum(tt.words))
		})
	}
}

func TestCommandFrameMarshalEmbedsValidChecksum(t *testing.T) {
	f := &frame.CommandFrame{ModePR: 1, ModeMachine: 4}
	f.Motors[0] = frame.MotorCommand{Mode: frame.MotorEnable, Q: 0.5, Kp: 40, Kd: 1}

	buf := f.Marshal()
	require.Len(t, buf, frame.CommandFrameSize)

	parsed, err := frame.UnmarshalCommand(buf)
	require.NoError(t, err)
	assert.Equal(t, f.ModePR, parsed.ModePR)
	assert.Equal(t, f.ModeMachine, parsed.ModeMachine)
	assert.Equal(t, f.Motors[0], parsed.Motors[0])
	assert.Equal(t, f.CRC, parsed.CRC)
}

func TestUnmarshalStateRejectsCorruption(t *testing.T) {
	f := &frame.StateFrame{}
	f.Quaternion = [4]float32{1, 0, 0, 0}
	buf := f.Marshal()

	t.Run("valid frame parses", func(t *testing.T) {
		parsed, err := frame.UnmarshalState(buf)
		require.NoError(t, err)
		assert.Equal(t, f.Quaternion, parsed.Quaternion)
	})

	t.Run("flipped payload bit fails checksum", func(t *testing.T) {
		corrupt := append([]byte(nil), buf...)
		corrupt[8] ^= 0x01
		_, err := frame.UnmarshalState(corrupt)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, frame.ErrChecksum))
	})

	t.Run("truncated frame fails length check", func(t *testing.T) {
		_, err := frame.UnmarshalState(buf[:len(buf)-8])
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, frame.ErrFrameLength))
	})

	t.Run("corrupted trailing CRC word fails", func(t *testing.T) {
		corrupt := append([]byte(nil), buf...)
		crc := binary.LittleEndian.Uint32(corrupt[len(corrupt)-4:])
		binary.LittleEndian.PutUint32(corrupt[len(corrupt)-4:], crc+1)
		_, err := frame.UnmarshalState(corrupt)
		assert.Error(t, err)
	})
}

func TestCodecMappingValidation(t *testing.T) {
	tests := []struct {
		name    string
		mapping []int
		wantErr errors.ErrorCode
	}{
		{"empty mapping", nil, frame.ErrInvalidMapping},
		{"channel out of range", []int{0, 1, 99}, frame.ErrChannelRange},
		{"negative channel", []int{0, -1}, frame.ErrChannelRange},
		{"duplicate channel", []int{0, 1, 1}, frame.ErrDuplicateChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := frame.NewCodec(tt.mapping)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.wantErr))
		})
	}

	codec, err := frame.NewCodec([]int{3, 1, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, 4, codec.NumJoints())
}

func TestCodecRoundTripThroughMapping(t *testing.T) {
	// Logical joint i lives on a shuffled physical channel.
	mapping := []int{5, 2, 9, 0}
	codec, err := frame.NewCodec(mapping)
	require.NoError(t, err)

	q := []float64{0.1, -0.2, 0.3, -0.4}
	dq := []float64{1, 2, 3, 4}
	kp := []float64{40, 40, 60, 60}
	kd := []float64{1, 1, 2, 2}
	tau := []float64{0.5, 0, -0.5, 0}

	cmd, err := codec.EncodeCommand(1, 4, q, dq, kp, kd, tau)
	require.NoError(t, err)

	for i, ch := range mapping {
		assert.Equal(t, frame.MotorEnable, cmd.Motors[ch].Mode)
		assert.InDelta(t, q[i], float64(cmd.Motors[ch].Q), 1e-6)
		assert.InDelta(t, tau[i], float64(cmd.Motors[ch].Tau), 1e-6)
	}
	// Unmapped channels stay passive.
	assert.Equal(t, frame.MotorDisable, cmd.Motors[1].Mode)

	// State written on physical channels decodes back into logical order.
	sf := &frame.StateFrame{}
	for i, ch := range mapping {
		sf.Motors[ch] = frame.MotorState{
			Q:      float32(q[i]),
			Dq:     float32(dq[i]),
			TauEst: float32(tau[i]),
		}
	}

	state := codec.DecodeState(sf)
	for i := range mapping {
		assert.InDelta(t, q[i], state.Q[i], 1e-6)
		assert.InDelta(t, dq[i], state.Dq[i], 1e-6)
		assert.InDelta(t, tau[i], state.TauEst[i], 1e-6)
	}
}

func TestEncodeCommandRejectsLengthMismatch(t *testing.T) {
	codec, err := frame.NewCodec([]int{0, 1})
	require.NoError(t, err)

	_, err = codec.EncodeCommand(1, 0, []float64{0}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, frame.ErrCommandLength))
}
