package policy

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/logger"
)

// ScriptEngine is the fallback backend: a layered network evaluated in pure
// Go from an exported JSON weights file. It covers deployments where the
// accelerated runtime is unavailable; the scalar step input is accepted for
// interface parity but the exported networks do not consume it.
type ScriptEngine struct {
	mu     sync.Mutex
	layers []scriptLayer
	inDim  int
	outDim int
	loaded bool
}

type scriptLayer struct {
	Weights    [][]float64 `json:"weights"` // [out][in]
	Biases     []float64   `json:"biases"`
	Activation string      `json:"activation"` // "tanh", "relu" or "linear"
}

type scriptModel struct {
	Layers []scriptLayer `json:"layers"`
}

// NewScriptEngine creates an unloaded fallback engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{}
}

// LoadModel reads and validates the JSON weights file. Layer dimensions must
// chain; a structural anomaly fails the load and leaves the engine unloaded.
func (e *ScriptEngine) LoadModel(path string) error {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errFactory.Wrap(ErrModelNotFound, err)
		}
		return errFactory.Wrap(ErrModelLoad, err)
	}

	var model scriptModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}
	if len(model.Layers) == 0 {
		return errFactory.WithMessage(ErrUnsupportedSchema, "model declares no layers")
	}

	prevWidth := -1
	for i, layer := range model.Layers {
		if len(layer.Weights) == 0 {
			return errFactory.WithData(ErrUnsupportedSchema, i)
		}
		inWidth := len(layer.Weights[0])
		for _, row := range layer.Weights {
			if len(row) != inWidth || inWidth == 0 {
				return errFactory.WithData(ErrUnsupportedSchema, i)
			}
		}
		if len(layer.Biases) != len(layer.Weights) {
			return errFactory.WithData(ErrUnsupportedSchema, i)
		}
		switch layer.Activation {
		case "tanh", "relu", "linear", "":
		default:
			return errFactory.WithData(ErrUnsupportedSchema, layer.Activation)
		}
		if prevWidth >= 0 && inWidth != prevWidth {
			return errFactory.WithData(ErrUnsupportedSchema, i)
		}
		prevWidth = len(layer.Weights)
	}

	e.layers = model.Layers
	e.inDim = len(model.Layers[0].Weights[0])
	e.outDim = prevWidth
	e.loaded = true
	logger.Info().Str("path", path).Int("layers", len(e.layers)).
		Int("in_dim", e.inDim).Int("out_dim", e.outDim).Msg("Fallback model loaded")

	return nil
}

func (e *ScriptEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.loaded
}

func (e *ScriptEngine) Inputs() []TensorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}

	return []TensorInfo{{Name: "obs", DType: DTypeFloat32, Shape: []int64{1, int64(e.inDim)}}}
}

func (e *ScriptEngine) Outputs() []TensorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}

	return []TensorInfo{{Name: "actions", DType: DTypeFloat32, Shape: []int64{1, int64(e.outDim)}}}
}

// Forward evaluates the network over the observation vector.
func (e *ScriptEngine) Forward(obs []float32, _ float32) ([]Tensor, error) {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil, errFactory.New(ErrNotLoaded)
	}
	if len(obs) != e.inDim {
		return nil, errFactory.WithData(ErrInferenceFailed, len(obs))
	}

	values := make([]float64, len(obs))
	for i, v := range obs {
		values[i] = float64(v)
	}

	for _, layer := range e.layers {
		next := make([]float64, len(layer.Weights))
		for i, row := range layer.Weights {
			sum := layer.Biases[i]
			for j, w := range row {
				sum += w * values[j]
			}
			next[i] = activate(layer.Activation, sum)
		}
		values = next
	}

	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}

	return []Tensor{FloatTensor("actions", []int64{1, int64(len(out))}, out)}, nil
}

func activate(name string, v float64) float64 {
	switch name {
	case "tanh":
		return math.Tanh(v)
	case "relu":
		return math.Max(0, v)
	default:
		return v
	}
}
