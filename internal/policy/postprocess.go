package policy

import (
	"codeberg.org/mutker/robotctl/internal/errors"
)

// References are the optional auxiliary trajectories some policy models emit
// alongside the action: joint-space position and velocity references, and an
// orientation anchor quaternion.
type References struct {
	JointPos []float32
	JointVel []float32
	BodyQuat []float32
}

// RefSlots configures which output slots carry reference trajectories. A
// negative slot disables that reference. The quaternion is a fixed-offset
// sub-slice within a larger output.
type RefSlots struct {
	PositionSlot int
	VelocitySlot int
	QuatSlot     int
	QuatOffset   int
	QuatLen      int
}

// DisabledRefSlots disables all reference extraction.
func DisabledRefSlots() RefSlots {
	return RefSlots{PositionSlot: -1, VelocitySlot: -1, QuatSlot: -1}
}

// ExtractAction pulls the action tensor from output slot 0.
func ExtractAction(outputs []Tensor) ([]float32, error) {
	errFactory := errors.New()

	if len(outputs) == 0 {
		return nil, errFactory.New(ErrEmptyOutput)
	}

	return outputs[0].Floats()
}

// ClipAction clips the action elementwise to [lower, upper] when both bound
// sets are present; otherwise the action passes through unclipped. Bounds
// are per joint, or a single value broadcast across all joints. The action
// tensor's width is a runtime property of the model, so elements beyond a
// per-joint bound set pass through rather than fault the inference call.
func ClipAction(action []float32, lower, upper []float64) []float32 {
	if len(lower) == 0 || len(upper) == 0 {
		return action
	}

	out := make([]float32, len(action))
	for i, v := range action {
		lo, okLo := boundAt(lower, i)
		hi, okHi := boundAt(upper, i)
		if !okLo || !okHi {
			out[i] = v
			continue
		}
		switch {
		case v < float32(lo):
			out[i] = float32(lo)
		case v > float32(hi):
			out[i] = float32(hi)
		default:
			out[i] = v
		}
	}

	return out
}

// ExtractReferences pulls the configured reference trajectories out of the
// output list. Disabled slots yield nil fields; a configured slot that is
// missing or malformed is an error.
func ExtractReferences(outputs []Tensor, slots RefSlots) (References, error) {
	errFactory := errors.New()
	var refs References

	if slots.PositionSlot >= 0 {
		values, err := slotFloats(outputs, slots.PositionSlot)
		if err != nil {
			return References{}, err
		}
		refs.JointPos = values
	}
	if slots.VelocitySlot >= 0 {
		values, err := slotFloats(outputs, slots.VelocitySlot)
		if err != nil {
			return References{}, err
		}
		refs.JointVel = values
	}
	if slots.QuatSlot >= 0 {
		values, err := slotFloats(outputs, slots.QuatSlot)
		if err != nil {
			return References{}, err
		}
		if slots.QuatOffset < 0 || slots.QuatLen <= 0 || slots.QuatOffset+slots.QuatLen > len(values) {
			return References{}, errFactory.WithData(ErrSlotRange, slots.QuatOffset)
		}
		refs.BodyQuat = values[slots.QuatOffset : slots.QuatOffset+slots.QuatLen]
	}

	return refs, nil
}

func slotFloats(outputs []Tensor, slot int) ([]float32, error) {
	if slot >= len(outputs) {
		return nil, errors.New().WithData(ErrSlotRange, slot)
	}

	return outputs[slot].Floats()
}

func boundAt(bounds []float64, i int) (float64, bool) {
	if len(bounds) == 1 {
		return bounds[0], true
	}
	if i >= len(bounds) {
		return 0, false
	}

	return bounds[i], true
}
