// Package policy abstracts learned-policy inference behind interchangeable
// backends and post-processes their outputs into joint-space actions. All
// temporal state lives in the observation buffer; a Forward call is a
// complete, independent evaluation.
package policy

import (
	"codeberg.org/mutker/robotctl/internal/errors"
)

// TensorInfo describes one declared input or output of a loaded model.
type TensorInfo struct {
	Name  string
	DType DType
	Shape []int64
}

// Engine is one inference backend. Implementations must keep the declared
// schema immutable after LoadModel and must be safe for repeated Forward
// calls at the inference loop's cadence.
type Engine interface {
	// LoadModel opens and validates the model artifact. On any structural
	// anomaly the engine reports an error and stays unloaded.
	LoadModel(path string) error

	// Loaded reports whether a model is ready for inference.
	Loaded() bool

	// Inputs returns the declared input schema.
	Inputs() []TensorInfo

	// Outputs returns the declared output schema.
	Outputs() []TensorInfo

	// Forward runs one forward pass over the observation vector and the
	// scalar step input, returning the full ordered list of outputs.
	Forward(obs []float32, step float32) ([]Tensor, error)
}

// Select picks the backend to use for a call: the first loaded engine wins,
// so a loaded primary is always used exclusively over the fallback.
func Select(engines ...Engine) (Engine, error) {
	for _, e := range engines {
		if e != nil && e.Loaded() {
			return e, nil
		}
	}

	return nil, errors.New().WithMessage(ErrNoBackend, "no inference backend available")
}
