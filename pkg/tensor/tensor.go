// Package tensor holds the dtype tags, static shapes and concrete batch values
// that flow through a preprocessing graph.
package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Batch marks the dynamic batch dimension of a static shape.
const Batch = -1

var (
	ErrUnknownDType  = errors.New("unknown dtype")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
)

type DType string

const (
	String  DType = "string"
	Int64   DType = "int64"
	Float32 DType = "float32"
)

// ParseDType accepts the canonical names plus the common aliases found in
// statistics files written by other tools.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "object":
		return String, nil
	case "int", "int32", "int64", "integer":
		return Int64, nil
	case "float", "float16", "float32", "float64", "double":
		return Float32, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDType, s)
}

func (d DType) Numeric() bool {
	return d == Int64 || d == Float32
}

func (d DType) String() string {
	return string(d)
}

// Spec is the symbolic type of a tensor. Shape[0] is always the batch
// dimension.
type Spec struct {
	DType DType `json:"dtype"`
	Shape []int `json:"shape"`
}

func NewSpec(dtype DType, dims ...int) Spec {
	return Spec{DType: dtype, Shape: append([]int{Batch}, dims...)}
}

func (s Spec) Rank() int {
	return len(s.Shape)
}

// Width is the number of elements per sample, or -1 when a non batch
// dimension is unknown.
func (s Spec) Width() int {
	width := 1
	for _, d := range s.Shape[1:] {
		if d < 0 {
			return -1
		}
		width *= d
	}
	return width
}

func (s Spec) String() string {
	dims := make([]string, len(s.Shape))
	for i, d := range s.Shape {
		if d == Batch {
			dims[i] = "None"
		} else {
			dims[i] = strconv.Itoa(d)
		}
	}
	return fmt.Sprintf("%s(%s)", s.DType, strings.Join(dims, ", "))
}

// Value is a concrete batch. Exactly one of the data slices is populated,
// matching DType, in row-major order.
type Value struct {
	DType   DType
	Shape   []int
	Floats  []float64
	Ints    []int64
	Strings []string
}

func NewFloats(shape []int, data []float64) *Value {
	return &Value{DType: Float32, Shape: shape, Floats: data}
}

func NewInts(shape []int, data []int64) *Value {
	return &Value{DType: Int64, Shape: shape, Ints: data}
}

func NewStrings(shape []int, data []string) *Value {
	return &Value{DType: String, Shape: shape, Strings: data}
}

// Rows is the batch size.
func (v *Value) Rows() int {
	if len(v.Shape) == 0 {
		return 0
	}
	return v.Shape[0]
}

// RowWidth is the number of elements per sample.
func (v *Value) RowWidth() int {
	width := 1
	for _, d := range v.Shape[1:] {
		width *= d
	}
	return width
}

func (v *Value) Len() int {
	switch v.DType {
	case Float32:
		return len(v.Floats)
	case Int64:
		return len(v.Ints)
	default:
		return len(v.Strings)
	}
}

func (v *Value) Validate() error {
	size := 1
	for _, d := range v.Shape {
		size *= d
	}
	if size != v.Len() {
		return fmt.Errorf("value of shape %v holds %d elements", v.Shape, v.Len())
	}
	return nil
}

// Spec returns the symbolic type of the value with a dynamic batch dimension.
func (v *Value) Spec() Spec {
	return NewSpec(v.DType, v.Shape[1:]...)
}

// AsFloats returns the numeric content as float64 regardless of dtype.
func (v *Value) AsFloats() ([]float64, error) {
	switch v.DType {
	case Float32:
		return v.Floats, nil
	case Int64:
		out := make([]float64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = float64(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot read %s value as floats", v.DType)
}

// Dense views a float value as a batch x width matrix.
func (v *Value) Dense() (*mat.Dense, error) {
	data, err := v.AsFloats()
	if err != nil {
		return nil, err
	}
	if v.Rows() == 0 {
		return nil, errors.New("empty batch")
	}
	return mat.NewDense(v.Rows(), v.RowWidth(), data), nil
}

func FromDense(m *mat.Dense) *Value {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return NewFloats([]int{rows, cols}, data)
}

// Column parses raw cells into a batch x 1 value of the given dtype.
func Column(dtype DType, cells []string) (*Value, error) {
	shape := []int{len(cells), 1}
	switch dtype {
	case Float32:
		data := make([]float64, len(cells))
		for i, c := range cells {
			x, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			data[i] = x
		}
		return NewFloats(shape, data), nil
	case Int64:
		data := make([]int64, len(cells))
		for i, c := range cells {
			x, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			data[i] = x
		}
		return NewInts(shape, data), nil
	case String:
		data := make([]string, len(cells))
		copy(data, cells)
		return NewStrings(shape, data), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDType, dtype)
}
