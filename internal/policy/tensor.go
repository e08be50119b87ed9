package policy

import (
	"encoding/binary"
	"math"

	"codeberg.org/mutker/robotctl/internal/errors"
)

// DType tags the element type of a tensor buffer. The enumeration is closed
// and mirrors the dataflow-graph format's type system.
type DType int

const (
	DTypeUnknown DType = iota
	DTypeFloat16
	DTypeFloat32
	DTypeFloat64
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeBool
	DTypeComplex64
	DTypeComplex128
	DTypeString
)

var dtypeNames = map[DType]string{
	DTypeUnknown:    "unknown",
	DTypeFloat16:    "float16",
	DTypeFloat32:    "float32",
	DTypeFloat64:    "float64",
	DTypeInt8:       "int8",
	DTypeInt16:      "int16",
	DTypeInt32:      "int32",
	DTypeInt64:      "int64",
	DTypeUint8:      "uint8",
	DTypeUint16:     "uint16",
	DTypeUint32:     "uint32",
	DTypeUint64:     "uint64",
	DTypeBool:       "bool",
	DTypeComplex64:  "complex64",
	DTypeComplex128: "complex128",
	DTypeString:     "string",
}

var dtypeSizes = map[DType]int{
	DTypeFloat16:    2,
	DTypeFloat32:    4,
	DTypeFloat64:    8,
	DTypeInt8:       1,
	DTypeInt16:      2,
	DTypeInt32:      4,
	DTypeInt64:      8,
	DTypeUint8:      1,
	DTypeUint16:     2,
	DTypeUint32:     4,
	DTypeUint64:     8,
	DTypeBool:       1,
	DTypeComplex64:  8,
	DTypeComplex128: 16,
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}

	return "unknown"
}

// Size returns the byte width of one element, or 0 for variable-size and
// unknown types.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Tensor is one named output (or input) of an inference pass: a dtype tag, a
// shape, and the raw little-endian element buffer.
type Tensor struct {
	Name  string
	DType DType
	Shape []int64
	Data  []byte
}

// DynamicAxis is the single negative dimension sentinel the schema may use
// for a batch axis. Any other negative dimension is structurally invalid.
const DynamicAxis = -1

// ElementCount computes the number of elements a shape describes. Dynamic
// axes count as one element; a zero dimension makes the whole tensor empty.
// Dimensions below the sentinel and products exceeding the addressable
// range are rejected, so a malformed shape can never size a buffer.
func ElementCount(shape []int64) (int, error) {
	errFactory := errors.New()

	count := 1
	empty := false
	for _, dim := range shape {
		if dim < DynamicAxis {
			return 0, errFactory.WithData(ErrShapeInvalid, dim)
		}
		if dim == DynamicAxis {
			continue
		}
		if dim == 0 {
			empty = true
			continue
		}
		if dim > math.MaxInt64/int64(count) {
			return 0, errFactory.WithData(ErrShapeOverflow, shape)
		}
		if int64(count)*dim > math.MaxInt32 {
			return 0, errFactory.WithData(ErrShapeOverflow, shape)
		}
		count *= int(dim)
	}
	if empty {
		return 0, nil
	}

	return count, nil
}

// Elements returns the element count of the tensor's shape.
func (t *Tensor) Elements() (int, error) {
	return ElementCount(t.Shape)
}

// Floats extracts the buffer as float32 values. Extraction is only valid
// when the dtype tag is float32 and the buffer length matches the shape.
func (t *Tensor) Floats() ([]float32, error) {
	errFactory := errors.New()

	if t.DType != DTypeFloat32 {
		return nil, errFactory.WithData(ErrTypeMismatch, t.DType.String())
	}
	count, err := t.Elements()
	if err != nil {
		return nil, err
	}
	if len(t.Data) != count*4 {
		return nil, errFactory.WithData(ErrBufferSize, len(t.Data))
	}

	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}

	return out, nil
}

// FloatTensor builds a float32 tensor from a value slice.
func FloatTensor(name string, shape []int64, values []float32) Tensor {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	return Tensor{
		Name:  name,
		DType: DTypeFloat32,
		Shape: shape,
		Data:  data,
	}
}
