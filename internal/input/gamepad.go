package input

import (
	"encoding/binary"
	"math"
	"sync"

	"codeberg.org/mutker/robotctl/internal/control"
	"codeberg.org/mutker/robotctl/internal/frame"
)

// Gamepad blob layout: a 2 byte header, a 16 bit button bitfield, then
// little-endian float32 stick axes.
const (
	btnOffset = 2
	lxOffset  = 4
	rxOffset  = 8
	lyOffset  = 20

	btnX = 0x0400

	// deadZone suppresses stick drift around center.
	deadZone = 0.05
)

// Gamepad decodes the remote blob that rides along in every state frame.
// The fast loop feeds it via UpdateRemote; the input loop polls it like any
// other source.
type Gamepad struct {
	mu      sync.Mutex
	blob    [frame.WirelessRemoteSize]byte
	fresh   bool
	prevBtn uint16
}

func NewGamepad() *Gamepad {
	return &Gamepad{}
}

// UpdateRemote stores the latest remote blob. Called from the fast loop.
func (g *Gamepad) UpdateRemote(blob [frame.WirelessRemoteSize]byte) {
	g.mu.Lock()
	g.blob = blob
	g.fresh = true
	g.mu.Unlock()
}

// Poll decodes the stored blob into an absolute axes update plus button
// edge gestures. Before the first remote blob arrives it reports nothing.
func (g *Gamepad) Poll() control.InputSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.fresh {
		return control.InputSample{}
	}

	btn := binary.LittleEndian.Uint16(g.blob[btnOffset:])
	lx := blobFloat(g.blob[:], lxOffset)
	rx := blobFloat(g.blob[:], rxOffset)
	ly := blobFloat(g.blob[:], lyOffset)

	sample := control.InputSample{
		Axes: &control.Axes{
			X:   applyDeadZone(ly),
			Y:   applyDeadZone(-lx),
			Yaw: applyDeadZone(-rx),
		},
	}

	// Button gestures fire on the press edge only.
	pressed := btn &^ g.prevBtn
	g.prevBtn = btn
	if pressed&btnX != 0 {
		sample.Gestures = append(sample.Gestures, control.GestureNavToggle)
	}

	return sample
}

func blobFloat(blob []byte, offset int) float64 {
	bits := binary.LittleEndian.Uint32(blob[offset:])
	v := float64(math.Float32frombits(bits))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func applyDeadZone(v float64) float64 {
	if math.Abs(v) < deadZone {
		return 0
	}

	return v
}
