package layers

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tabprep/pkg/tensor"
)

const layerNormEpsilon = 1e-6

// TransformerBlock is a post-norm transformer encoder block over the fused
// feature vector. Preprocessing graphs are never trained, so attention and
// feed-forward weights stay at their zero initialisation and the block
// reduces to LayerNorm(x + 0). The hyperparameters are kept for the model
// that fine-tunes the block downstream.
type TransformerBlock struct {
	base
	DimModel    int
	NumHeads    int
	FFUnits     int
	DropoutRate float64
}

func newTransformerBlock(name string, cfg Config) (Layer, error) {
	dim, err := cfg.Int("dim_model", 0)
	if err != nil {
		return nil, err
	}
	heads, err := cfg.Int("num_heads", 3)
	if err != nil {
		return nil, err
	}
	ff, err := cfg.Int("ff_units", 16)
	if err != nil {
		return nil, err
	}
	dropout, err := cfg.Float("dropout_rate", 0.25)
	if err != nil {
		return nil, err
	}
	switch {
	case dim <= 0:
		return nil, fmt.Errorf("%w: dim_model must be positive", ErrInvalidConfig)
	case heads <= 0:
		return nil, fmt.Errorf("%w: num_heads must be positive", ErrInvalidConfig)
	case ff <= 0:
		return nil, fmt.Errorf("%w: ff_units must be positive", ErrInvalidConfig)
	case dropout < 0 || dropout >= 1:
		return nil, fmt.Errorf("%w: dropout_rate must be in [0, 1)", ErrInvalidConfig)
	}
	return &TransformerBlock{
		base:        base{name, KindTransformerBlock},
		DimModel:    dim,
		NumHeads:    heads,
		FFUnits:     ff,
		DropoutRate: dropout,
	}, nil
}

func (l *TransformerBlock) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	in := inputs[0]
	if err := expectDType(l.kind, in, tensor.Float32); err != nil {
		return tensor.Spec{}, err
	}
	if in.Rank() != 2 || in.Width() != l.DimModel {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects (None, %d), got %s",
			tensor.ErrShapeMismatch, l.name, l.DimModel, in)
	}
	return tensor.NewSpec(tensor.Float32, l.DimModel), nil
}

func (l *TransformerBlock) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	rows, width := in.Rows(), in.RowWidth()
	out := make([]float64, len(in.Floats))
	for r := 0; r < rows; r++ {
		row := in.Floats[r*width : (r+1)*width]
		mean, variance := stat.PopMeanVariance(row, nil)
		scale := 1 / math.Sqrt(variance+layerNormEpsilon)
		for c, x := range row {
			out[r*width+c] = (x - mean) * scale
		}
	}
	return tensor.NewFloats([]int{rows, width}, out), nil
}

func (l *TransformerBlock) Config() Config {
	return l.config(
		"dim_model", l.DimModel,
		"num_heads", l.NumHeads,
		"ff_units", l.FFUnits,
		"dropout_rate", l.DropoutRate,
	)
}
