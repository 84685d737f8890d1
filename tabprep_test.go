package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testData = `age,city
30,NYC
40,LA
50,NYC
`

func writeFixtures(t *testing.T, outputMode string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte(testData), 0o644))
	config := `
features:
  - name: age
    type: FLOAT_NORMALIZED
  - name: city
    type: STRING_CATEGORICAL
    encoding: one_hot
output_mode: ` + outputMode + `
statistics_path: ` + filepath.Join(dir, "stats.json") + `
data_path: ` + filepath.Join(dir, "data.csv") + `
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0o644))
	return dir
}

func readLines(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestBuildAndPredict(t *testing.T) {
	dir := writeFixtures(t, "concat")
	modelFile := filepath.Join(dir, "model.json")

	buildCmd := BuildCommand()
	buildCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", modelFile})
	require.NoError(t, buildCmd.Execute())
	require.FileExists(t, modelFile)
	require.FileExists(t, filepath.Join(dir, "stats.json"))

	outputFile := filepath.Join(dir, "out.csv")
	predictCmd := PredictCommand()
	predictCmd.SetArgs([]string{"-m", modelFile, "-i", filepath.Join(dir, "data.csv"), "-o", outputFile, "-b", "2"})
	require.NoError(t, predictCmd.Execute())

	lines := readLines(t, outputFile)
	require.Len(t, lines, 4)
	require.Equal(t, "batch,row,ConcatenateAll_0,ConcatenateAll_1,ConcatenateAll_2,ConcatenateAll_3", lines[0])

	first := strings.Split(lines[1], ",")
	require.Equal(t, []string{"0", "0"}, first[:2])
	age, err := strconv.ParseFloat(first[2], 64)
	require.NoError(t, err)
	require.InDelta(t, -1.2247, age, 1e-3)
	require.Equal(t, []string{"0.00000", "1.00000", "0.00000"}, first[3:])

	last := strings.Split(lines[3], ",")
	require.Equal(t, []string{"1", "0"}, last[:2])
}

func TestBuild_DictOutputsInDeclarationOrder(t *testing.T) {
	dir := writeFixtures(t, "dict")
	modelFile := filepath.Join(dir, "model.json")

	buildCmd := BuildCommand()
	buildCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", modelFile})
	require.NoError(t, buildCmd.Execute())

	outputFile := filepath.Join(dir, "out.csv")
	predictCmd := PredictCommand()
	predictCmd.SetArgs([]string{"-m", modelFile, "-i", filepath.Join(dir, "data.csv"), "-o", outputFile, "--parallel"})
	require.NoError(t, predictCmd.Execute())

	lines := readLines(t, outputFile)
	require.Equal(t, "batch,row,age,city_0,city_1,city_2", lines[0])
	require.Len(t, lines, 4)
}

func TestStats(t *testing.T) {
	dir := writeFixtures(t, "concat")
	statsFile := filepath.Join(dir, "computed.json")

	statsCmd := StatsCommand()
	statsCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", statsFile})
	require.NoError(t, statsCmd.Execute())

	data, err := os.ReadFile(statsFile)
	require.NoError(t, err)
	var computed struct {
		Numeric     map[string]map[string]interface{} `json:"numeric_stats"`
		Categorical map[string]map[string]interface{} `json:"categorical_stats"`
	}
	require.NoError(t, json.Unmarshal(data, &computed))
	require.InDelta(t, 40.0, computed.Numeric["age"]["mean"], 1e-9)
	require.Equal(t, []interface{}{"NYC", "LA"}, computed.Categorical["city"]["vocab"])
}

func TestStats_Sample(t *testing.T) {
	dir := writeFixtures(t, "concat")
	readStats := func(path string) (float64, []interface{}) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var computed struct {
			Numeric     map[string]map[string]interface{} `json:"numeric_stats"`
			Categorical map[string]map[string]interface{} `json:"categorical_stats"`
		}
		require.NoError(t, json.Unmarshal(data, &computed))
		return computed.Numeric["age"]["mean"].(float64), computed.Categorical["city"]["vocab"].([]interface{})
	}

	sampled := filepath.Join(dir, "sampled.json")
	statsCmd := StatsCommand()
	statsCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", sampled, "--sample", "2"})
	require.NoError(t, statsCmd.Execute())
	mean, vocab := readStats(sampled)
	require.Contains(t, []float64{35, 40, 45}, mean)
	require.NotEmpty(t, vocab)
	require.Subset(t, []interface{}{"NYC", "LA"}, vocab)

	all := filepath.Join(dir, "all.json")
	statsCmd = StatsCommand()
	statsCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", all, "--sample", "10"})
	require.NoError(t, statsCmd.Execute())
	mean, vocab = readStats(all)
	require.InDelta(t, 40.0, mean, 1e-9)
	require.Equal(t, []interface{}{"NYC", "LA"}, vocab)
}

func TestPredict_RequiresInput(t *testing.T) {
	dir := writeFixtures(t, "concat")
	modelFile := filepath.Join(dir, "model.json")

	buildCmd := BuildCommand()
	buildCmd.SetArgs([]string{"-c", filepath.Join(dir, "config.yaml"), "-o", modelFile})
	require.NoError(t, buildCmd.Execute())

	predictCmd := PredictCommand()
	predictCmd.SetArgs([]string{"-m", modelFile})
	require.Error(t, predictCmd.Execute())
}
