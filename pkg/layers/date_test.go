package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"tabprep/pkg/tensor"
)

func TestDateParsing(t *testing.T) {
	layer := mustLayer(t, KindDateParsing, nil)
	spec, err := layer.OutputSpec(tensor.NewSpec(tensor.String, 1))
	require.NoError(t, err)
	require.Equal(t, tensor.NewSpec(tensor.Int64, 4), spec)

	out, err := layer.Call(tensor.NewStrings([]int{3, 1}, []string{"2025-01-17", "2023-01-01", "2024/06/16"}))
	require.NoError(t, err)
	require.Equal(t, []int{3, 4}, out.Shape)
	require.Equal(t, []int64{
		2025, 1, 17, 5,
		2023, 1, 1, 0,
		2024, 6, 16, 0,
	}, out.Ints)

	_, err = layer.Call(tensor.NewStrings([]int{1, 1}, []string{"17.01.2025"}))
	require.Error(t, err)
}

func TestDateParsing_CustomFormat(t *testing.T) {
	layer := mustLayer(t, KindDateParsing, Config{"date_format": "DD/MM/YYYY"})
	out, err := layer.Call(tensor.NewStrings([]int{1, 1}, []string{"17-01-2025"}))
	require.NoError(t, err)
	require.Equal(t, []int64{2025, 1, 17, 5}, out.Ints)

	_, err = Default.New(KindDateParsing, "bad", Config{"date_format": "%d"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// angularDistance sums the angles between the sine/cosine pairs of two
// encoded dates.
func angularDistance(a, b []float64) float64 {
	var total float64
	for i := 0; i < len(a); i += 2 {
		dot := a[i]*b[i] + a[i+1]*b[i+1]
		total += math.Acos(math.Max(-1, math.Min(1, dot)))
	}
	return total
}

func TestEncodeDate_Cyclic(t *testing.T) {
	dec31 := EncodeDate(2023, 12, 31, 0)
	jan1 := EncodeDate(2024, 1, 1, 1)
	jun30 := EncodeDate(2023, 6, 30, 5)

	require.Len(t, dec31, 8)
	require.Less(t, angularDistance(dec31, jan1), angularDistance(dec31, jun30))

	// December and January are neighbours on the month circle.
	require.Less(t, angularDistance(dec31[2:4], jan1[2:4]), angularDistance(dec31[2:4], jun30[2:4]))

	for i := 0; i < 8; i += 2 {
		require.InDelta(t, 1, dec31[i]*dec31[i]+dec31[i+1]*dec31[i+1], 1e-9)
	}
}

func TestDateEncoding(t *testing.T) {
	layer := mustLayer(t, KindDateEncoding, nil)
	spec, err := layer.OutputSpec(tensor.NewSpec(tensor.Int64, 4))
	require.NoError(t, err)
	require.Equal(t, tensor.NewSpec(tensor.Float32, 8), spec)

	out, err := layer.Call(tensor.NewInts([]int{1, 4}, []int64{2025, 1, 17, 5}))
	require.NoError(t, err)
	require.InDeltaSlice(t, EncodeDate(2025, 1, 17, 5), out.Floats, 1e-12)
}

func TestSeasonOf(t *testing.T) {
	expected := map[int]int{
		12: Winter, 1: Winter, 2: Winter,
		3: Spring, 4: Spring, 5: Spring,
		6: Summer, 7: Summer, 8: Summer,
		9: Fall, 10: Fall, 11: Fall,
	}
	for month, season := range expected {
		require.Equal(t, season, SeasonOf(month), "month %d", month)
	}
}

func TestSeason_DependsOnlyOnMonth(t *testing.T) {
	layer := mustLayer(t, KindSeason, nil)
	for month := 1; month <= 12; month++ {
		var rows []int64
		for _, year := range []int64{1999, 2024, 2031} {
			rows = append(rows, year, int64(month), 15, 3)
		}
		out, err := layer.Call(tensor.NewInts([]int{3, 4}, rows))
		require.NoError(t, err)
		require.Equal(t, []int{3, 8}, out.Shape)
		for r := 0; r < 3; r++ {
			onehot := out.Floats[r*8+4 : r*8+8]
			want := make([]float64, 4)
			want[SeasonOf(month)] = 1
			require.Equal(t, want, onehot, "month %d", month)
		}
	}
}

func TestSeason_AfterEncoding(t *testing.T) {
	encode := mustLayer(t, KindDateEncoding, nil)
	season := mustLayer(t, KindSeason, nil)

	spec, err := season.OutputSpec(tensor.NewSpec(tensor.Float32, 8))
	require.NoError(t, err)
	require.Equal(t, 12, spec.Width())

	for month := 1; month <= 12; month++ {
		encoded, err := encode.Call(tensor.NewInts([]int{1, 4}, []int64{2024, int64(month), 28, 2}))
		require.NoError(t, err)
		out, err := season.Call(encoded)
		require.NoError(t, err)
		want := make([]float64, 4)
		want[SeasonOf(month)] = 1
		require.Equal(t, want, out.Floats[8:], "month %d", month)
	}
}
