// Package input implements the operator input sources behind the control
// layer's Source interface: a keyboard reader for bench use and a decoder
// for the gamepad blob carried inside state frames.
package input

import (
	"io"
	"sync"

	"codeberg.org/mutker/robotctl/internal/control"
)

// Keyboard reads single characters from a reader (stdin in raw mode on the
// bench) and turns them into gestures. Reading happens on its own
// goroutine; Poll never blocks.
type Keyboard struct {
	mu      sync.Mutex
	pending []control.Gesture
	done    chan struct{}
	once    sync.Once
}

// NewKeyboard starts reading from r until it is exhausted or Close is
// called.
func NewKeyboard(r io.Reader) *Keyboard {
	k := &Keyboard{done: make(chan struct{})}
	go k.read(r)

	return k
}

func (k *Keyboard) read(r io.Reader) {
	buf := make([]byte, 1)
	for {
		select {
		case <-k.done:
			return
		default:
		}

		n, err := r.Read(buf)
		if n == 1 {
			if g := gestureForKey(buf[0]); g != control.GestureNone {
				k.mu.Lock()
				k.pending = append(k.pending, g)
				k.mu.Unlock()
			}
		}
		if err != nil {
			return
		}
	}
}

// Poll returns the gestures typed since the previous poll.
func (k *Keyboard) Poll() control.InputSample {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.pending) == 0 {
		return control.InputSample{}
	}

	gestures := make([]control.Gesture, len(k.pending))
	copy(gestures, k.pending)
	k.pending = k.pending[:0]

	return control.InputSample{Gestures: gestures}
}

// Close stops the reader goroutine after its current Read returns.
func (k *Keyboard) Close() {
	k.once.Do(func() { close(k.done) })
}

func gestureForKey(b byte) control.Gesture {
	switch b {
	case 'w', 'W':
		return control.GestureForward
	case 's', 'S':
		return control.GestureBackward
	case 'a', 'A':
		return control.GestureLeft
	case 'd', 'D':
		return control.GestureRight
	case 'q', 'Q':
		return control.GestureYawLeft
	case 'e', 'E':
		return control.GestureYawRight
	case ' ':
		return control.GestureStop
	case 'n', 'N':
		return control.GestureNavToggle
	default:
		return control.GestureNone
	}
}
