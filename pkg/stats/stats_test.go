package stats

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tabprep/pkg/features"
	"tabprep/pkg/tensor"
)

func TestRecord_Require(t *testing.T) {
	r := Record{Mean: Float(0), Vocab: []string{}}
	mean, err := r.RequireMean("age")
	require.NoError(t, err)
	require.Equal(t, 0.0, mean)

	_, err = r.RequireVar("age")
	require.True(t, errors.Is(err, ErrMissingStatistic))
	require.Contains(t, err.Error(), "age")
	require.Contains(t, err.Error(), "var")

	vocab, err := r.RequireVocab("city")
	require.NoError(t, err)
	require.Empty(t, vocab)

	_, err = Record{}.RequireVocab("city")
	require.True(t, errors.Is(err, ErrMissingStatistic))
}

func TestLoadCached_MissingFile(t *testing.T) {
	s, err := LoadCached(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.True(t, s.Empty())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features_stats.json")
	s := New()
	s.Numeric["age"] = Record{Mean: Float(30), Var: Float(0), DType: tensor.Float32}
	s.Categorical["city"] = Record{Vocab: []string{"NYC", "LA"}, DType: tensor.String}
	s.Text["review"] = Record{Vocab: []string{}, DType: tensor.String}
	require.NoError(t, Save(path, s))

	loaded, err := LoadCached(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)

	age, ok := loaded.Lookup("age")
	require.True(t, ok)
	require.True(t, age.HasMean())
	require.False(t, age.HasVocab())
	require.Equal(t, []string{"age", "city", "review"}, loaded.Names())
}

func TestLoadCached_DTypeAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	doc := `{"numeric_stats": {"x": {"mean": 1.5, "var": 2, "dtype": "float64"}},
	         "categorical_stats": {"c": {"vocab": ["a"], "dtype": "object"}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadCached(path)
	require.NoError(t, err)
	require.Equal(t, tensor.Float32, s.Numeric["x"].DType)
	require.Equal(t, tensor.String, s.Categorical["c"].DType)
	require.NotNil(t, s.Text)

	require.NoError(t, os.WriteFile(path, []byte(`{"numeric_stats": {"x": {"dtype": "complex"}}}`), 0o644))
	_, err = LoadCached(path)
	require.True(t, errors.Is(err, tensor.ErrUnknownDType))
}

type memorySource struct {
	batches []map[string]*tensor.Value
}

func (m *memorySource) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	if len(m.batches) == 0 {
		return nil, io.EOF
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func TestCollector_Compute(t *testing.T) {
	space, err := features.Normalize([]features.Declaration{
		{Name: "age", Spec: features.FloatNormalized},
		{Name: "city", Spec: features.StringCategorical},
		{Name: "rooms", Spec: features.IntegerCategorical},
		{Name: "review", Spec: features.TextType},
		{Name: "signup", Spec: features.DateType},
	})
	require.NoError(t, err)

	source := &memorySource{batches: []map[string]*tensor.Value{
		{
			"age":    tensor.NewFloats([]int{3, 1}, []float64{20, 30, 40}),
			"city":   tensor.NewStrings([]int{3, 1}, []string{"LA", "NYC", "NYC"}),
			"rooms":  tensor.NewInts([]int{3, 1}, []int64{2, 3, 3}),
			"review": tensor.NewStrings([]int{3, 1}, []string{"Great place!", "great", "bad"}),
			"signup": tensor.NewStrings([]int{3, 1}, []string{"2024-01-01", "2024-01-02", "2024-01-03"}),
		},
		{
			"age":    tensor.NewFloats([]int{1, 1}, []float64{30}),
			"city":   tensor.NewStrings([]int{1, 1}, []string{"Paris"}),
			"rooms":  tensor.NewInts([]int{1, 1}, []int64{1}),
			"review": tensor.NewStrings([]int{1, 1}, []string{"place"}),
			"signup": tensor.NewStrings([]int{1, 1}, []string{"2024-01-04"}),
		},
	}}

	s, err := NewCollector(source, space).Compute(context.Background())
	require.NoError(t, err)

	age := s.Numeric["age"]
	require.InDelta(t, 30, *age.Mean, 1e-9)
	require.InDelta(t, 50, *age.Var, 1e-9)
	require.Equal(t, tensor.Float32, age.DType)

	require.Equal(t, []string{"NYC", "LA", "Paris"}, s.Categorical["city"].Vocab)
	require.Equal(t, []string{"3", "1", "2"}, s.Categorical["rooms"].Vocab)
	require.Equal(t, tensor.Int64, s.Categorical["rooms"].DType)
	require.Equal(t, []string{"great", "place", "bad"}, s.Text["review"].Vocab)

	_, ok := s.Lookup("signup")
	require.False(t, ok)
}

type failingSource struct{}

func (failingSource) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	return nil, errors.New("disk on fire")
}

func TestCollector_SourceError(t *testing.T) {
	space, err := features.Normalize([]features.Declaration{{Name: "age", Spec: features.Float}})
	require.NoError(t, err)
	_, err = NewCollector(failingSource{}, space).Compute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk on fire")
}
