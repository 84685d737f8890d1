package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"tabprep/pkg/tensor"
)

// Flatten collapses every non batch dimension.
type Flatten struct {
	base
}

func newFlatten(name string, _ Config) (Layer, error) {
	return &Flatten{base{name, KindFlatten}}, nil
}

func (l *Flatten) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.NewSpec(inputs[0].DType, inputs[0].Width()), nil
}

func (l *Flatten) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	return reshaped(inputs[0], []int{inputs[0].Rows(), inputs[0].RowWidth()}), nil
}

func (l *Flatten) Config() Config {
	return l.config()
}

// Reshape changes the per-sample shape. At most one target dimension may be
// -1, it is inferred from the element count.
type Reshape struct {
	base
	TargetShape []int
}

func newReshape(name string, cfg Config) (Layer, error) {
	raw, err := cfg.Ints("target_shape")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = []int64{-1}
	}
	target := make([]int, len(raw))
	unknown := 0
	for i, d := range raw {
		if d == -1 {
			unknown++
		} else if d <= 0 {
			return nil, fmt.Errorf("%w: target_shape dimension %d", ErrInvalidConfig, d)
		}
		target[i] = int(d)
	}
	if unknown > 1 {
		return nil, fmt.Errorf("%w: target_shape has more than one unknown dimension", ErrInvalidConfig)
	}
	return &Reshape{base: base{name, KindReshape}, TargetShape: target}, nil
}

func (l *Reshape) resolve(width int) ([]int, error) {
	known := 1
	for _, d := range l.TargetShape {
		if d > 0 {
			known *= d
		}
	}
	out := make([]int, len(l.TargetShape))
	for i, d := range l.TargetShape {
		out[i] = d
		if d == -1 {
			if width < 0 || width%known != 0 {
				return nil, fmt.Errorf("%w: cannot reshape width %d to %v", tensor.ErrShapeMismatch, width, l.TargetShape)
			}
			out[i] = width / known
			known = width
		}
	}
	if known != width {
		return nil, fmt.Errorf("%w: cannot reshape width %d to %v", tensor.ErrShapeMismatch, width, l.TargetShape)
	}
	return out, nil
}

func (l *Reshape) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	dims, err := l.resolve(inputs[0].Width())
	if err != nil {
		return tensor.Spec{}, err
	}
	return tensor.NewSpec(inputs[0].DType, dims...), nil
}

func (l *Reshape) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	dims, err := l.resolve(inputs[0].RowWidth())
	if err != nil {
		return nil, err
	}
	return reshaped(inputs[0], append([]int{inputs[0].Rows()}, dims...)), nil
}

func (l *Reshape) Config() Config {
	return l.config("target_shape", l.TargetShape)
}

func reshaped(v *tensor.Value, shape []int) *tensor.Value {
	return &tensor.Value{DType: v.DType, Shape: shape, Floats: v.Floats, Ints: v.Ints, Strings: v.Strings}
}

// Concatenate joins rank 2 float inputs along the feature axis.
type Concatenate struct {
	base
	Axis int
}

func newConcatenate(name string, cfg Config) (Layer, error) {
	axis, err := cfg.Int("axis", -1)
	if err != nil {
		return nil, err
	}
	if axis != -1 && axis != 1 {
		return nil, fmt.Errorf("%w: only the feature axis is supported, got %d", ErrInvalidConfig, axis)
	}
	return &Concatenate{base: base{name, KindConcatenate}, Axis: axis}, nil
}

func (l *Concatenate) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if len(inputs) == 0 {
		return tensor.Spec{}, fmt.Errorf("%s expects at least one input", l.kind)
	}
	width := 0
	for _, in := range inputs {
		if in.Rank() != 2 {
			return tensor.Spec{}, fmt.Errorf("%w: %s expects rank 2 inputs, got %s", tensor.ErrShapeMismatch, l.name, in)
		}
		if err := expectDType(l.name, in, tensor.Float32); err != nil {
			return tensor.Spec{}, err
		}
		width += in.Width()
	}
	return tensor.NewSpec(tensor.Float32, width), nil
}

func (l *Concatenate) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	joined, err := inputs[0].Dense()
	if err != nil {
		return nil, err
	}
	for _, in := range inputs[1:] {
		next, err := in.Dense()
		if err != nil {
			return nil, err
		}
		if r, _ := next.Dims(); r != inputs[0].Rows() {
			return nil, fmt.Errorf("%w: concatenating batches of %d and %d rows", tensor.ErrShapeMismatch, inputs[0].Rows(), r)
		}
		var aug mat.Dense
		aug.Augment(joined, next)
		joined = &aug
	}
	return tensor.FromDense(joined), nil
}

func (l *Concatenate) Config() Config {
	return l.config("axis", l.Axis)
}
