package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"string", String},
		{"object", String},
		{"int32", Int64},
		{" Integer ", Int64},
		{"float64", Float32},
		{"double", Float32},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDType(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDType("complex128")
	require.ErrorIs(t, err, ErrUnknownDType)
}

func TestSpec(t *testing.T) {
	s := NewSpec(Float32, 3, 4)
	require.Equal(t, []int{Batch, 3, 4}, s.Shape)
	require.Equal(t, 3, s.Rank())
	require.Equal(t, 12, s.Width())
	require.Equal(t, "float32(None, 3, 4)", s.String())

	require.Equal(t, -1, NewSpec(String, Batch).Width())
}

func TestColumn(t *testing.T) {
	v, err := Column(Float32, []string{"1.5", " 2 "})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, v.Shape)
	require.Equal(t, []float64{1.5, 2}, v.Floats)
	require.NoError(t, v.Validate())

	ints, err := Column(Int64, []string{"3", "4"})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4}, ints.Ints)
	floats, err := ints.AsFloats()
	require.NoError(t, err)
	require.Equal(t, []float64{3, 4}, floats)

	_, err = Column(Int64, []string{"3.5"})
	require.Error(t, err)
	_, err = Column("bytes", nil)
	require.ErrorIs(t, err, ErrUnknownDType)
}

func TestValue_Dense(t *testing.T) {
	v := NewFloats([]int{2, 2}, []float64{1, 2, 3, 4})
	m, err := v.Dense()
	require.NoError(t, err)
	require.Equal(t, 3.0, m.At(1, 0))
	require.Equal(t, v, FromDense(m))

	_, err = NewStrings([]int{1, 1}, []string{"a"}).Dense()
	require.Error(t, err)

	bad := NewFloats([]int{2, 2}, []float64{1})
	require.Error(t, bad.Validate())
	require.Equal(t, NewSpec(Float32, 2), v.Spec())
}
