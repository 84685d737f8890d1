package layers

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"tabprep/pkg/tensor"
)

const normalizationEpsilon = 1e-7

// Normalization shifts and scales inputs to zero mean and unit variance.
type Normalization struct {
	base
	Mean     float64
	Variance float64
}

func newNormalization(name string, cfg Config) (Layer, error) {
	mean, err := cfg.Float("mean", 0)
	if err != nil {
		return nil, err
	}
	variance, err := cfg.Float("variance", 1)
	if err != nil {
		return nil, err
	}
	if variance < 0 {
		return nil, fmt.Errorf("%w: negative variance %v", ErrInvalidConfig, variance)
	}
	return &Normalization{base: base{name, KindNormalization}, Mean: mean, Variance: variance}, nil
}

func (l *Normalization) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectNumeric(l.kind, inputs[0]); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Float32, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *Normalization) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	data, err := inputs[0].AsFloats()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	copy(out, data)
	floats.AddConst(-l.Mean, out)
	floats.Scale(1/math.Max(math.Sqrt(l.Variance), normalizationEpsilon), out)
	return tensor.NewFloats(copyShape(inputs[0].Shape), out), nil
}

func (l *Normalization) Config() Config {
	return l.config("mean", l.Mean, "variance", l.Variance)
}

// Rescaling computes x*scale + offset.
type Rescaling struct {
	base
	Scale  float64
	Offset float64
}

func newRescaling(name string, cfg Config) (Layer, error) {
	scale, err := cfg.Float("scale", 1)
	if err != nil {
		return nil, err
	}
	offset, err := cfg.Float("offset", 0)
	if err != nil {
		return nil, err
	}
	return &Rescaling{base: base{name, KindRescaling}, Scale: scale, Offset: offset}, nil
}

func (l *Rescaling) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectNumeric(l.kind, inputs[0]); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Float32, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *Rescaling) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	data, err := inputs[0].AsFloats()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	copy(out, data)
	floats.Scale(l.Scale, out)
	floats.AddConst(l.Offset, out)
	return tensor.NewFloats(copyShape(inputs[0].Shape), out), nil
}

func (l *Rescaling) Config() Config {
	return l.config("scale", l.Scale, "offset", l.Offset)
}

// Discretization maps values to the index of their bucket. Bucket i holds
// boundaries[i-1] <= x < boundaries[i].
type Discretization struct {
	base
	Boundaries []float64
}

func newDiscretization(name string, cfg Config) (Layer, error) {
	boundaries, err := cfg.Floats("bin_boundaries")
	if err != nil {
		return nil, err
	}
	if len(boundaries) == 0 {
		return nil, fmt.Errorf("%w: bin_boundaries is required", ErrInvalidConfig)
	}
	if !sort.Float64sAreSorted(boundaries) {
		return nil, fmt.Errorf("%w: bin_boundaries must be sorted", ErrInvalidConfig)
	}
	return &Discretization{base: base{name, KindDiscretization}, Boundaries: boundaries}, nil
}

// NumBins is the number of distinct output indexes.
func (l *Discretization) NumBins() int {
	return len(l.Boundaries) + 1
}

func (l *Discretization) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectNumeric(l.kind, inputs[0]); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Int64, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *Discretization) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	data, err := inputs[0].AsFloats()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(data))
	for i, x := range data {
		out[i] = int64(sort.Search(len(l.Boundaries), func(j int) bool { return l.Boundaries[j] > x }))
	}
	return tensor.NewInts(copyShape(inputs[0].Shape), out), nil
}

func (l *Discretization) Config() Config {
	return l.config("bin_boundaries", l.Boundaries)
}

// CastToFloat32 converts numeric inputs to float32.
type CastToFloat32 struct {
	base
}

func newCastToFloat32(name string, _ Config) (Layer, error) {
	return &CastToFloat32{base{name, KindCastToFloat32}}, nil
}

func (l *CastToFloat32) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectNumeric(l.kind, inputs[0]); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Float32, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *CastToFloat32) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	data, err := inputs[0].AsFloats()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	copy(out, data)
	return tensor.NewFloats(copyShape(inputs[0].Shape), out), nil
}

func (l *CastToFloat32) Config() Config {
	return l.config()
}
