package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

func TestNameMap(t *testing.T) {
	m := NewNameMap("b", "a", "c")
	require.Equal(t, 3, m.Size())
	require.Equal(t, []string{"b", "a", "c"}, m.Names())

	i, ok := m.ContainsName("a")
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = m.ContainsName("z")
	require.False(t, ok)
}

func TestCross_JSON(t *testing.T) {
	c := Cross{A: "age", B: "city", Bins: 16}
	require.Equal(t, "age_x_city", c.Key())

	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `["age", "city", 16]`, string(data))

	var decoded Cross
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, c, decoded)

	require.Error(t, json.Unmarshal([]byte(`["age", "city"]`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{"a": "age"}`), &decoded))
}

func TestMetadata_FeatureCount(t *testing.T) {
	md := Metadata{
		NumericFeatures:     []string{"age", "income"},
		CategoricalFeatures: []string{"city"},
		DateFeatures:        []string{"joined"},
	}
	require.Equal(t, 4, md.FeatureCount())
}

func newTestModel(t *testing.T) *Model {
	g := graph.New(nil)
	x, err := g.Input("x", tensor.NewSpec(tensor.Float32, 1))
	require.NoError(t, err)
	y, err := g.Input("y", tensor.NewSpec(tensor.Float32, 1))
	require.NoError(t, err)
	scaled, err := g.Apply(layers.KindRescaling, "scale_x", layers.Config{"scale": 2.0}, x)
	require.NoError(t, err)
	both, err := g.Apply(layers.KindConcatenate, "concat", nil, scaled, y)
	require.NoError(t, err)
	return New(g, []*graph.Node{x, y}, []Output{{Name: "x", Node: scaled}, {Name: "all", Node: both}}, Metadata{OutputMode: OutputDict})
}

func TestModel_Predict(t *testing.T) {
	m := newTestModel(t)
	require.Equal(t, []string{"x", "all"}, m.OutputNames())
	require.Equal(t, []int{1, 2}, m.OutputDims())
	require.Equal(t, map[string]tensor.Spec{
		"x": tensor.NewSpec(tensor.Float32, 1),
		"y": tensor.NewSpec(tensor.Float32, 1),
	}, m.Signature())

	pred, err := m.Predict(map[string]*tensor.Value{
		"x": tensor.NewFloats([]int{2, 1}, []float64{1, 2}),
		"y": tensor.NewFloats([]int{2, 1}, []float64{5, 6}),
	})
	require.NoError(t, err)
	require.Equal(t, 2, pred.Rows())
	require.Equal(t, []string{"x", "all"}, pred.Names())

	all, ok := pred.Get("all")
	require.True(t, ok)
	require.Equal(t, []float64{2, 5, 4, 6}, all.Floats)
	_, ok = pred.Get("missing")
	require.False(t, ok)
}

func TestModel_PredictMissingFeed(t *testing.T) {
	m := newTestModel(t)
	_, err := m.Predict(map[string]*tensor.Value{
		"x": tensor.NewFloats([]int{1, 1}, []float64{1}),
	})
	require.Error(t, err)
}
