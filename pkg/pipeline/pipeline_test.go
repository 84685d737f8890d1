package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

func TestChain(t *testing.T) {
	g := graph.New(nil)
	price, err := g.Input("price", tensor.NewSpec(tensor.Float32, 1))
	require.NoError(t, err)

	p := New("price").
		Add(layers.KindDiscretization, "discretize_price", layers.Config{"bin_boundaries": []float64{10, 100}}).
		Add(layers.KindCategoryEncoding, "one_hot_price", layers.Config{"num_tokens": 3, "output_mode": layers.EncodingOneHot}).
		Add(layers.KindCastToFloat32, "cast_to_float_price", nil)
	require.Equal(t, 3, p.Len())

	out, err := p.Chain(g, price)
	require.NoError(t, err)
	require.Equal(t, "cast_to_float_price", out.Name())
	require.Equal(t, tensor.NewSpec(tensor.Float32, 3), out.Spec())

	res, err := g.Run(map[string]*tensor.Value{"price": tensor.NewFloats([]int{2, 1}, []float64{5, 150})}, out)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 0, 0, 0, 1}, res[0].Floats)
}

func TestChain_MultipleInputs(t *testing.T) {
	g := graph.New(nil)
	a, err := g.Input("a", tensor.NewSpec(tensor.String, 1))
	require.NoError(t, err)
	b, err := g.Input("b", tensor.NewSpec(tensor.Int64, 1))
	require.NoError(t, err)

	out, err := New("a_x_b").
		Add(layers.KindHashedCrossing, "cross_a_x_b", layers.Config{"num_bins": 10}).
		Add(layers.KindCastToFloat32, "cast_to_float_a_x_b", nil).
		Chain(g, a, b)
	require.NoError(t, err)
	require.Equal(t, tensor.NewSpec(tensor.Float32, 1), out.Spec())
}

func TestChain_Empty(t *testing.T) {
	g := graph.New(nil)
	a, err := g.Input("a", tensor.NewSpec(tensor.Float32, 1))
	require.NoError(t, err)

	out, err := New("a").Chain(g, a)
	require.NoError(t, err)
	require.Same(t, a, out)

	_, err = New("a").Chain(g, a, a)
	require.True(t, errors.Is(err, ErrEmptyPipeline))
}

func TestChain_StepError(t *testing.T) {
	g := graph.New(nil)
	city, err := g.Input("city", tensor.NewSpec(tensor.String, 1))
	require.NoError(t, err)

	_, err = New("city").Add(layers.KindNormalization, "norm_city", nil).Chain(g, city)
	require.True(t, errors.Is(err, tensor.ErrDTypeMismatch))
	require.Contains(t, err.Error(), "pipeline city, step 0")
}
