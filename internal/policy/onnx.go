package policy

import (
	"fmt"
	"os"
	"sync"

	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/logger"
	ort "github.com/yalue/onnxruntime_go"
)

const onnxThreads = 4

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXEngine is the primary accelerated backend: a serialized dataflow-graph
// artifact executed by ONNX Runtime.
type ONNXEngine struct {
	mu          sync.Mutex
	libraryPath string
	session     *ort.DynamicAdvancedSession
	inputs      []TensorInfo
	outputs     []TensorInfo
	inputNames  []string
	outputNames []string
	loaded      bool
}

// NewONNXEngine creates an unloaded engine. libraryPath optionally points at
// the runtime's shared library; empty means the platform default.
func NewONNXEngine(libraryPath string) *ONNXEngine {
	return &ONNXEngine{libraryPath: libraryPath}
}

// LoadModel opens the artifact, discovers input/output names, shapes and
// dtypes, and creates the session. Any structural anomaly fails the load and
// leaves the engine unloaded.
func (e *ONNXEngine) LoadModel(path string) error {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false

	info, err := os.Stat(path)
	if err != nil {
		return errFactory.Wrap(ErrModelNotFound, err)
	}
	logger.Info().Str("path", path).Int64("size_bytes", info.Size()).Msg("Loading ONNX model")

	ortInitOnce.Do(func() {
		if e.libraryPath != "" {
			ort.SetSharedLibraryPath(e.libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return errFactory.Wrap(ErrModelLoad, ortInitErr)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}
	if len(inputInfo) == 0 || len(inputInfo) > 2 {
		return errFactory.WithData(ErrUnsupportedSchema, len(inputInfo))
	}
	if len(outputInfo) == 0 {
		return errFactory.WithMessage(ErrUnsupportedSchema, "model declares no outputs")
	}

	inputs := make([]TensorInfo, 0, len(inputInfo))
	inputNames := make([]string, 0, len(inputInfo))
	for i, in := range inputInfo {
		ti, err := describeOrtTensor(in, fmt.Sprintf("input_%d", i))
		if err != nil {
			return err
		}
		inputs = append(inputs, ti)
		inputNames = append(inputNames, ti.Name)
		logger.Debug().Str("name", ti.Name).Interface("shape", ti.Shape).
			Str("dtype", ti.DType.String()).Msg("Model input")
	}

	outputs := make([]TensorInfo, 0, len(outputInfo))
	outputNames := make([]string, 0, len(outputInfo))
	for i, out := range outputInfo {
		ti, err := describeOrtTensor(out, fmt.Sprintf("output_%d", i))
		if err != nil {
			return err
		}
		if _, err := ElementCount(ti.Shape); err != nil {
			return err
		}
		outputs = append(outputs, ti)
		outputNames = append(outputNames, ti.Name)
		logger.Debug().Str("name", ti.Name).Interface("shape", ti.Shape).
			Str("dtype", ti.DType.String()).Msg("Model output")
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(onnxThreads); err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}
	if err := opts.SetInterOpNumThreads(onnxThreads); err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, opts)
	if err != nil {
		return errFactory.Wrap(ErrModelLoad, err)
	}

	if e.session != nil {
		e.session.Destroy()
	}
	e.session = session
	e.inputs = inputs
	e.outputs = outputs
	e.inputNames = inputNames
	e.outputNames = outputNames
	e.loaded = true
	logger.Info().Int("inputs", len(inputs)).Int("outputs", len(outputs)).Msg("ONNX model loaded")

	return nil
}

func (e *ONNXEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.loaded
}

func (e *ONNXEngine) Inputs() []TensorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]TensorInfo(nil), e.inputs...)
}

func (e *ONNXEngine) Outputs() []TensorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]TensorInfo(nil), e.outputs...)
}

// Forward runs one pass: input 0 receives the observation vector as a
// [1, len(obs)] tensor, a second declared input receives the scalar step.
func (e *ONNXEngine) Forward(obs []float32, step float32) ([]Tensor, error) {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil, errFactory.New(ErrNotLoaded)
	}

	obsTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(obs))), obs)
	if err != nil {
		return nil, errFactory.Wrap(ErrInferenceFailed, err)
	}
	defer obsTensor.Destroy()

	inputs := []ort.Value{obsTensor}
	if len(e.inputs) == 2 {
		stepTensor, err := ort.NewTensor(ort.NewShape(1), []float32{step})
		if err != nil {
			return nil, errFactory.Wrap(ErrInferenceFailed, err)
		}
		defer stepTensor.Destroy()
		inputs = append(inputs, stepTensor)
	}

	outputs := make([]ort.Value, len(e.outputs))
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, errFactory.Wrap(ErrInferenceFailed, err)
	}

	results := make([]Tensor, 0, len(outputs))
	for i, out := range outputs {
		tensor, convErr := convertOrtValue(out, e.outputs[i].Name)
		out.Destroy()
		if convErr != nil {
			return nil, convErr
		}
		results = append(results, tensor)
	}
	if len(results) == 0 {
		return nil, errFactory.New(ErrEmptyOutput)
	}

	return results, nil
}

func describeOrtTensor(info ort.InputOutputInfo, placeholder string) (TensorInfo, error) {
	errFactory := errors.New()

	name := info.Name
	if name == "" {
		name = placeholder
	}

	shape := make([]int64, len(info.Dimensions))
	for i, dim := range info.Dimensions {
		if dim < DynamicAxis {
			return TensorInfo{}, errFactory.WithData(ErrShapeInvalid, dim)
		}
		shape[i] = dim
	}

	return TensorInfo{
		Name:  name,
		DType: dtypeFromOrt(info.DataType),
		Shape: shape,
	}, nil
}

func convertOrtValue(v ort.Value, name string) (Tensor, error) {
	errFactory := errors.New()

	tensor, ok := v.(*ort.Tensor[float32])
	if !ok {
		return Tensor{}, errFactory.WithData(ErrTypeMismatch, name)
	}

	shape := tensor.GetShape()
	outShape := make([]int64, len(shape))
	copy(outShape, shape)

	return FloatTensor(name, outShape, tensor.GetData()), nil
}

func dtypeFromOrt(t ort.TensorElementDataType) DType {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return DTypeFloat32
	case ort.TensorElementDataTypeDouble:
		return DTypeFloat64
	case ort.TensorElementDataTypeFloat16:
		return DTypeFloat16
	case ort.TensorElementDataTypeInt8:
		return DTypeInt8
	case ort.TensorElementDataTypeInt16:
		return DTypeInt16
	case ort.TensorElementDataTypeInt32:
		return DTypeInt32
	case ort.TensorElementDataTypeInt64:
		return DTypeInt64
	case ort.TensorElementDataTypeUint8:
		return DTypeUint8
	case ort.TensorElementDataTypeUint16:
		return DTypeUint16
	case ort.TensorElementDataTypeUint32:
		return DTypeUint32
	case ort.TensorElementDataTypeUint64:
		return DTypeUint64
	case ort.TensorElementDataTypeBool:
		return DTypeBool
	case ort.TensorElementDataTypeComplex64:
		return DTypeComplex64
	case ort.TensorElementDataTypeComplex128:
		return DTypeComplex128
	case ort.TensorElementDataTypeString:
		return DTypeString
	default:
		return DTypeUnknown
	}
}
