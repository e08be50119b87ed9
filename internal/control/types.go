package control

import (
	"time"

	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/frame"
	"codeberg.org/mutker/robotctl/internal/policy"
)

const (
	ErrInvalidPeriod     = errors.ErrorCode("control_invalid_period")
	ErrInvalidDecimation = errors.ErrorCode("control_invalid_decimation")
	ErrInvalidJoints     = errors.ErrorCode("control_invalid_joint_count")
	ErrUnknownGroup      = errors.ErrorCode("control_unknown_feature_group")
	ErrGroupWidth        = errors.ErrorCode("control_feature_group_width")
	ErrNoStateYet        = errors.ErrorCode("control_no_state_received")
)

// RobotState is the hardware state in logical joint order, refreshed once
// per fast-loop tick. The inference loop only ever reads it.
type RobotState struct {
	Quaternion    [4]float64 // w, x, y, z
	Gyroscope     [3]float64
	Accelerometer [3]float64
	Q             []float64
	Dq            []float64
	TauEst        []float64
}

// RobotCommand is the per-joint actuator target produced each fast-loop
// tick, owned by the fast loop until handed to the codec.
type RobotCommand struct {
	Q   []float64
	Dq  []float64
	Tau []float64
	Kp  []float64
	Kd  []float64
}

// Gesture is a discrete input event from the gamepad or keyboard.
type Gesture int

const (
	GestureNone Gesture = iota
	GestureForward
	GestureBackward
	GestureLeft
	GestureRight
	GestureYawLeft
	GestureYawRight
	GestureStop
	GestureNavToggle
)

// ControlIntent is the user's planar velocity command plus mode flags. Only
// the input path mutates it; the inference loop reads it when building
// observations.
type ControlIntent struct {
	X              float64
	Y              float64
	Yaw            float64
	NavigationMode bool
	LastGesture    Gesture
}

// Axes is an absolute analog stick update.
type Axes struct {
	X   float64
	Y   float64
	Yaw float64
}

// InputSample is one poll of the input hardware: zero or more discrete
// gestures plus an optional analog axes update.
type InputSample struct {
	Gestures []Gesture
	Axes     *Axes
}

// Source abstracts the gamepad/keyboard input hardware. Poll must never
// block; raw byte decoding lives behind this interface.
type Source interface {
	Poll() InputSample
}

// RemoteSink is implemented by sources that decode the gamepad blob carried
// inside state frames. The fast loop feeds it after every decoded frame.
type RemoteSink interface {
	UpdateRemote(blob [frame.WirelessRemoteSize]byte)
}

// Result is one completed inference pass handed to the fast loop.
type Result struct {
	Action   []float32
	Refs     policy.References
	Duration time.Duration
	Seq      uint64
}
