package control

import (
	"sync"

	"codeberg.org/mutker/robotctl/internal/logger"
)

// intentNudge is the velocity increment applied per discrete gesture.
const intentNudge = 0.1

// intentState holds the shared control intent plus the gestures queued by
// the input loop and not yet consumed by the fast loop. Each gesture is
// applied exactly once: a held key queues one event per poll edge, never an
// accumulating stream.
type intentState struct {
	mu      sync.Mutex
	intent  ControlIntent
	pending []Gesture
}

// push queues input events from the input loop.
func (s *intentState) push(sample InputSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.Axes != nil {
		s.intent.X = sample.Axes.X
		s.intent.Y = sample.Axes.Y
		s.intent.Yaw = sample.Axes.Yaw
	}
	s.pending = append(s.pending, sample.Gestures...)
}

// consume applies every pending gesture once and returns the resulting
// intent. Called from the fast loop.
func (s *intentState) consume() ControlIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.pending {
		s.apply(g)
	}
	s.pending = s.pending[:0]

	return s.intent
}

// snapshot returns the current intent without consuming queued gestures.
func (s *intentState) snapshot() ControlIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.intent
}

func (s *intentState) apply(g Gesture) {
	switch g {
	case GestureForward:
		s.intent.X += intentNudge
	case GestureBackward:
		s.intent.X -= intentNudge
	case GestureLeft:
		s.intent.Y += intentNudge
	case GestureRight:
		s.intent.Y -= intentNudge
	case GestureYawLeft:
		s.intent.Yaw += intentNudge
	case GestureYawRight:
		s.intent.Yaw -= intentNudge
	case GestureStop:
		s.intent.X = 0
		s.intent.Y = 0
		s.intent.Yaw = 0
	case GestureNavToggle:
		s.intent.NavigationMode = !s.intent.NavigationMode
		logger.Info().Bool("navigation_mode", s.intent.NavigationMode).Msg("Navigation mode toggled")
	case GestureNone:
		return
	}
	s.intent.LastGesture = g
}
