package processor

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"tabprep/pkg/features"
	dataio "tabprep/pkg/io"
	"tabprep/pkg/model"
)

func predictionRows(t *testing.T, results <-chan Result) map[int][]float64 {
	t.Helper()
	rows := map[int][]float64{}
	for r := range results {
		require.NoError(t, r.Err)
		rows[r.Batch] = r.Prediction.Values[0].Floats
	}
	return rows
}

func scenarioData(n int) *dataio.DataSet {
	cities := []string{"NYC", "LA", "Paris"}
	var rows []dataio.Row
	for i := 0; i < n; i++ {
		rows = append(rows, dataio.Row{"age": strconv.Itoa(20 + i), "city": cities[i%3]})
	}
	return dataio.NewDataSet(rows, dataio.Schema{"age": "float32", "city": "string"}, 2)
}

func buildScenario(t *testing.T) *model.Model {
	p, err := New(scenarioDecls(features.OneHot), WithStatistics(scenarioStats()))
	require.NoError(t, err)
	m, err := p.Build(context.Background())
	require.NoError(t, err)
	return m
}

func TestBatchPredict_Sequential(t *testing.T) {
	m := buildScenario(t)
	data := scenarioData(5)

	var batches []int
	var sizes []int
	for r := range BatchPredict(context.Background(), m, data) {
		require.NoError(t, r.Err)
		batches = append(batches, r.Batch)
		sizes = append(sizes, r.Prediction.Rows())
	}
	require.Equal(t, []int{0, 1, 2}, batches)
	require.Equal(t, []int{2, 2, 1}, sizes)

	// Every call reads the source from the start.
	again := predictionRows(t, BatchPredict(context.Background(), m, data))
	require.Len(t, again, 3)
}

func TestBatchPredict_ParallelMatchesSequential(t *testing.T) {
	m := buildScenario(t)
	data := scenarioData(9)

	sequential := predictionRows(t, BatchPredict(context.Background(), m, data))
	parallel := predictionRows(t, BatchPredict(context.Background(), m, data,
		WithParallel(true), WithPredictBatches(2), WithPredictPoolSize(3)))
	require.Equal(t, sequential, parallel)

	var keys []int
	for k := range parallel {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	require.Equal(t, []int{0, 1, 2, 3, 4}, keys)
}

func TestBatchPredict_ReportsSourceErrors(t *testing.T) {
	m := buildScenario(t)
	data := dataio.NewDataSet([]dataio.Row{{"age": "old", "city": "NYC"}}, dataio.Schema{"age": "float32", "city": "string"}, 2)

	var errs []error
	for r := range BatchPredict(context.Background(), m, data) {
		errs = append(errs, r.Err)
	}
	require.Len(t, errs, 1)
	require.Error(t, errs[0])
	require.Contains(t, errs[0].Error(), "age")
}
