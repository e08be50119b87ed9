package control

import (
	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/observation"
)

// Feature group names the observation builder understands. The widths are
// fixed by the robot (joint count) and the IMU, and are validated against
// the configured layout before any loop starts: a silently misassembled
// observation produces wrong actions with no runtime signal.
const (
	groupActions    = "actions"
	groupAngVel     = "ang_vel"
	groupCommands   = "commands"
	groupDofPos     = "dof_pos"
	groupDofVel     = "dof_vel"
	groupGravityVec = "gravity_vec"
	groupPhase      = "phase"
)

// ObservationScales are the multipliers applied to raw sensor values before
// they enter the observation vector, matching the policy's training-time
// normalization.
type ObservationScales struct {
	AngVel float64
	DofPos float64
	DofVel float64
}

// DefaultScales leaves every term unscaled.
func DefaultScales() ObservationScales {
	return ObservationScales{AngVel: 1, DofPos: 1, DofVel: 1}
}

func validateLayout(layout observation.Layout, numJoints int) error {
	errFactory := errors.New()

	if err := layout.Validate(); err != nil {
		return err
	}

	for _, g := range layout.Groups {
		want := 0
		switch g.Name {
		case groupActions, groupDofPos, groupDofVel:
			want = numJoints
		case groupAngVel, groupCommands, groupGravityVec:
			want = 3
		case groupPhase:
			want = 1
		default:
			return errFactory.WithData(ErrUnknownGroup, g.Name)
		}
		if g.Width != want {
			return errFactory.WithData(ErrGroupWidth, g)
		}
	}

	return nil
}

// buildObservation assembles one observation vector in the configured group
// order from the current state, intent, previous action and phase scalar.
func (o *Orchestrator) buildObservation(state RobotState, intent ControlIntent, prevAction []float32, phase float64) []float32 {
	out := make([]float32, 0, o.cfg.Observation.Width())

	for _, g := range o.cfg.Observation.Groups {
		switch g.Name {
		case groupActions:
			for i := 0; i < o.cfg.NumJoints; i++ {
				if i < len(prevAction) {
					out = append(out, prevAction[i])
				} else {
					out = append(out, 0)
				}
			}
		case groupAngVel:
			for _, v := range state.Gyroscope {
				out = append(out, float32(v*o.cfg.Scales.AngVel))
			}
		case groupCommands:
			out = append(out, float32(intent.X), float32(intent.Y), float32(intent.Yaw))
		case groupDofPos:
			for i := 0; i < o.cfg.NumJoints; i++ {
				out = append(out, float32((state.Q[i]-o.cfg.DefaultPose[i])*o.cfg.Scales.DofPos))
			}
		case groupDofVel:
			for i := 0; i < o.cfg.NumJoints; i++ {
				out = append(out, float32(state.Dq[i]*o.cfg.Scales.DofVel))
			}
		case groupGravityVec:
			g := projectedGravity(state.Quaternion)
			out = append(out, float32(g[0]), float32(g[1]), float32(g[2]))
		case groupPhase:
			out = append(out, float32(phase))
		}
	}

	return out
}

// projectedGravity rotates the world gravity direction [0, 0, -1] into the
// body frame using the inverse of the orientation quaternion (w, x, y, z).
func projectedGravity(q [4]float64) [3]float64 {
	w, x, y, z := q[0], q[1], q[2], q[3]

	// v' = v(2w^2 - 1) - 2w (q_vec x v) + 2 q_vec (q_vec . v), with v = (0, 0, -1).
	return [3]float64{
		2 * (w*y - x*z),
		-2 * (w*x + y*z),
		1 - 2*(w*w+z*z),
	}
}
