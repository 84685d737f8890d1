package io

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"tabprep/pkg/features"
	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/model"
	"tabprep/pkg/stats"
	"tabprep/pkg/tensor"
)

const sampleCSV = `age,city,comment
30,NYC,fine
forty,LA,typo in age
35,LA,ok
28,Paris,ok
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var sampleSchema = Schema{"age": tensor.Float32, "city": tensor.String}

func TestCSVSource_Batches(t *testing.T) {
	src := NewCSVSource(writeFile(t, sampleCSV), sampleSchema, WithBatchSize(2))
	defer src.Close()
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []float64{30, 35}, first["age"].Floats)
	require.Equal(t, []string{"NYC", "LA"}, first["city"].Strings)
	require.Equal(t, []int{2, 1}, first["age"].Shape)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []float64{28}, second["age"].Floats)

	_, err = src.Next(ctx)
	require.Equal(t, io.EOF, err)

	require.Len(t, src.Errors(), 1)
	require.Equal(t, 3, src.Errors()[0].Line)
	require.Contains(t, src.Errors()[0].Error, "age")

	require.NoError(t, src.Reset())
	again, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestCSVSource_MissingColumn(t *testing.T) {
	src := NewCSVSource(writeFile(t, sampleCSV), Schema{"zip": tensor.String})
	_, err := src.Next(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "zip")
}

func TestCSVSource_MissingFile(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv"), sampleSchema)
	_, err := src.Next(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSchemaOf(t *testing.T) {
	space, err := features.Normalize([]features.Declaration{
		{Name: "age", Spec: features.Float},
		{Name: "rooms", Spec: features.IntegerCategorical},
		{Name: "city", Spec: features.StringCategorical},
	})
	require.NoError(t, err)
	require.Equal(t, Schema{"age": tensor.Float32, "rooms": tensor.Int64, "city": tensor.String}, SchemaOf(space))
}

func TestDataSet(t *testing.T) {
	rows := []Row{
		{"age": "1", "city": "a"},
		{"age": "2", "city": "b"},
		{"age": "3", "city": "c"},
	}
	ds := NewDataSet(rows, sampleSchema, 2)
	require.Equal(t, 3, ds.Size())
	ctx := context.Background()

	batch, err := ds.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, batch["age"].Floats)
	batch, err = ds.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, batch["city"].Strings)
	_, err = ds.Next(ctx)
	require.Equal(t, io.EOF, err)

	require.NoError(t, ds.Reset())
	batch, err = ds.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, batch["age"].Rows())

	splits, err := ds.RandomSplit(2, 1)
	require.NoError(t, err)
	require.Equal(t, 2, splits[0].Size())
	require.Equal(t, 1, splits[1].Size())
	_, err = ds.RandomSplit(3, 1)
	require.Error(t, err)
}

func TestCSVSource_Rows(t *testing.T) {
	src := NewCSVSource(writeFile(t, sampleCSV), sampleSchema)
	defer src.Close()
	rows, err := src.Rows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Row{
		{"age": "30", "city": "NYC"},
		{"age": "35", "city": "LA"},
		{"age": "28", "city": "Paris"},
	}, rows)
	require.Len(t, src.Errors(), 1)
	require.Equal(t, 3, src.Errors()[0].Line)
}

func TestDataSet_Sample(t *testing.T) {
	rows := []Row{
		{"age": "1", "city": "a"},
		{"age": "2", "city": "b"},
		{"age": "3", "city": "c"},
		{"age": "4", "city": "d"},
	}
	ctx := context.Background()

	sample, err := NewDataSet(rows, sampleSchema, 10).Sample(2)
	require.NoError(t, err)
	require.Equal(t, 2, sample.Size())
	batch, err := sample.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, batch["age"].Rows())

	ds := NewDataSet(rows, sampleSchema, 10)
	all, err := ds.Sample(0)
	require.NoError(t, err)
	require.Same(t, ds, all)
	batch, err = all.Next(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []float64{1, 2, 3, 4}, batch["age"].Floats)

	require.NoError(t, all.Reset())
	again, err := all.Next(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, batch["age"].Floats, again["age"].Floats)
}

func TestSampledSource(t *testing.T) {
	src := NewCSVSource(writeFile(t, sampleCSV), sampleSchema, WithBatchSize(1))
	defer src.Close()
	sampled := NewSampledSource(src, 2)
	ctx := context.Background()

	seen := 0
	for {
		batch, err := sampled.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 1, batch["age"].Rows())
		require.Contains(t, []float64{30, 35, 28}, batch["age"].Floats[0])
		seen++
	}
	require.Equal(t, 2, seen)
	require.Len(t, src.Errors(), 1)

	require.NoError(t, sampled.Reset())
	_, err := sampled.Next(ctx)
	require.NoError(t, err)
}

func TestDataSet_BadRow(t *testing.T) {
	ds := NewDataSet([]Row{{"age": "x", "city": "a"}}, sampleSchema, 2)
	_, err := ds.Next(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "age")

	ds = NewDataSet([]Row{{"age": "1"}}, sampleSchema, 2)
	_, err = ds.Next(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "city")
}

func TestKafkaSource_DecodesRecords(t *testing.T) {
	s := newKafkaSource(nil, KafkaConfig{}, sampleSchema, logr.Discard())
	require.Equal(t, DefaultBatchSize, s.batchSize)
	require.Equal(t, defaultIdleTimeout, s.idle)

	b := newBatcher(sampleSchema)
	require.NoError(t, s.add(b, &kgo.Record{Value: []byte(`{"age": 41.5, "city": "LA", "extra": true}`)}))
	require.Error(t, s.add(b, &kgo.Record{Value: []byte(`{"age": 41.5}`)}))
	require.Error(t, s.add(b, &kgo.Record{Value: []byte(`not json`)}))

	batch, err := b.flush()
	require.NoError(t, err)
	require.Equal(t, []float64{41.5}, batch["age"].Floats)
	require.Equal(t, []string{"LA"}, batch["city"].Strings)
}

func sampleModel(t *testing.T) *model.Model {
	g := graph.New(nil)
	age, err := g.Input("age", tensor.NewSpec(tensor.Float32, 1))
	require.NoError(t, err)
	city, err := g.Input("city", tensor.NewSpec(tensor.String, 1))
	require.NoError(t, err)
	norm, err := g.Apply(layers.KindNormalization, "norm_age", layers.Config{"mean": 30.0, "variance": 25.0}, age)
	require.NoError(t, err)
	lookup, err := g.Apply(layers.KindStringLookup, "lookup_city", layers.Config{"vocabulary": []string{"NYC", "LA"}}, city)
	require.NoError(t, err)
	embed, err := g.Apply(layers.KindEmbedding, "embed_city", layers.Config{"input_dim": 3, "output_dim": 3}, lookup)
	require.NoError(t, err)
	flat, err := g.Apply(layers.KindFlatten, "flatten_city", nil, embed)
	require.NoError(t, err)

	s := stats.New()
	s.Numeric["age"] = stats.Record{Mean: stats.Float(30), Var: stats.Float(25), DType: tensor.Float32}
	s.Categorical["city"] = stats.Record{Vocab: []string{"NYC", "LA"}, DType: tensor.String}
	md := model.Metadata{
		FeatureStatistics:   s,
		NumericFeatures:     []string{"age"},
		CategoricalFeatures: []string{"city"},
		FeatureCrosses:      []model.Cross{{A: "age", B: "city", Bins: 4}},
		OutputMode:          model.OutputDict,
	}
	return model.New(g, []*graph.Node{age, city},
		[]model.Output{{Name: "age", Node: norm}, {Name: "city", Node: flat}}, md)
}

func TestSaveLoadModel(t *testing.T) {
	m := sampleModel(t)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, SaveModelFile(m, path))

	loaded, err := LoadModelFile(path, nil)
	require.NoError(t, err)
	require.Equal(t, m.Metadata, loaded.Metadata)
	require.Equal(t, m.OutputNames(), loaded.OutputNames())
	require.Equal(t, m.Signature(), loaded.Signature())
	require.Equal(t, "age", loaded.Inputs[0].Name())

	feeds := map[string]*tensor.Value{
		"age":  tensor.NewFloats([]int{2, 1}, []float64{25, 40}),
		"city": tensor.NewStrings([]int{2, 1}, []string{"LA", "Rome"}),
	}
	want, err := m.Predict(feeds)
	require.NoError(t, err)
	got, err := loaded.Predict(feeds)
	require.NoError(t, err)
	require.Equal(t, want.Values, got.Values)
}

func TestSaveModel_MetadataDocument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SaveModel(sampleModel(t), &buf))

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	var md map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["metadata"], &md))
	for _, key := range []string{"feature_statistics", "numeric_features", "categorical_features",
		"text_features", "date_features", "feature_crosses", "output_mode"} {
		require.Contains(t, md, key)
	}
	require.JSONEq(t, `[["age", "city", 4]]`, string(md["feature_crosses"]))
	require.Contains(t, string(md["feature_statistics"]), `"dtype": "float32"`)
}

func TestLoadModel_Invalid(t *testing.T) {
	_, err := LoadModel(bytes.NewBufferString("{"), nil)
	require.Error(t, err)
	_, err = LoadModel(bytes.NewBufferString(`{"metadata": {}}`), nil)
	require.Error(t, err)
}
