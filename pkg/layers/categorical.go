package layers

import (
	"fmt"
	"strconv"

	farm "github.com/dgryski/go-farm"
	spagomat "github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"

	"tabprep/pkg/tensor"
)

// lookup is the shared part of StringLookup and IntegerLookup: OOV tokens
// take the first numOOV indexes, vocabulary entries follow in order.
type lookup struct {
	base
	numOOV int
	index  map[string]int64
}

func newLookup(b base, vocab []string, numOOV int) (lookup, error) {
	if numOOV < 1 {
		return lookup{}, fmt.Errorf("%w: num_oov_indices must be positive", ErrInvalidConfig)
	}
	index := make(map[string]int64, len(vocab))
	for i, token := range vocab {
		if _, dup := index[token]; dup {
			return lookup{}, fmt.Errorf("%w: duplicate vocabulary token %q", ErrInvalidConfig, token)
		}
		index[token] = int64(numOOV + i)
	}
	return lookup{base: b, numOOV: numOOV, index: index}, nil
}

func (l lookup) lookupToken(token string) int64 {
	if i, ok := l.index[token]; ok {
		return i
	}
	if l.numOOV == 1 {
		return 0
	}
	return int64(farm.Fingerprint64([]byte(token)) % uint64(l.numOOV))
}

// VocabularySize counts OOV indexes and vocabulary entries.
func (l lookup) VocabularySize() int {
	return l.numOOV + len(l.index)
}

type StringLookup struct {
	lookup
	Vocabulary []string
}

func newStringLookup(name string, cfg Config) (Layer, error) {
	vocab, err := cfg.Strings("vocabulary")
	if err != nil {
		return nil, err
	}
	numOOV, err := cfg.Int("num_oov_indices", 1)
	if err != nil {
		return nil, err
	}
	lk, err := newLookup(base{name, KindStringLookup}, vocab, numOOV)
	if err != nil {
		return nil, err
	}
	return &StringLookup{lookup: lk, Vocabulary: vocab}, nil
}

func (l *StringLookup) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.String); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Int64, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *StringLookup) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]int64, len(in.Strings))
	for i, s := range in.Strings {
		out[i] = l.lookupToken(s)
	}
	return tensor.NewInts(copyShape(in.Shape), out), nil
}

func (l *StringLookup) Config() Config {
	return l.config("vocabulary", l.Vocabulary, "num_oov_indices", l.numOOV)
}

type IntegerLookup struct {
	lookup
	Vocabulary []int64
}

func newIntegerLookup(name string, cfg Config) (Layer, error) {
	vocab, err := cfg.Ints("vocabulary")
	if err != nil {
		return nil, err
	}
	numOOV, err := cfg.Int("num_oov_indices", 1)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(vocab))
	for i, v := range vocab {
		tokens[i] = strconv.FormatInt(v, 10)
	}
	lk, err := newLookup(base{name, KindIntegerLookup}, tokens, numOOV)
	if err != nil {
		return nil, err
	}
	return &IntegerLookup{lookup: lk, Vocabulary: vocab}, nil
}

func (l *IntegerLookup) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.Int64); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.Int64, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *IntegerLookup) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]int64, len(in.Ints))
	for i, v := range in.Ints {
		out[i] = l.lookupToken(strconv.FormatInt(v, 10))
	}
	return tensor.NewInts(copyShape(in.Shape), out), nil
}

func (l *IntegerLookup) Config() Config {
	return l.config("vocabulary", l.Vocabulary, "num_oov_indices", l.numOOV)
}

// CategoryEncoding turns integer indexes into dense vectors of NumTokens
// columns. one_hot expects a single index per sample.
type CategoryEncoding struct {
	base
	NumTokens  int
	OutputMode string
}

const (
	EncodingOneHot   = "one_hot"
	EncodingMultiHot = "multi_hot"
	EncodingCount    = "count"
)

func newCategoryEncoding(name string, cfg Config) (Layer, error) {
	numTokens, err := cfg.Int("num_tokens", 0)
	if err != nil {
		return nil, err
	}
	if numTokens <= 0 {
		return nil, fmt.Errorf("%w: num_tokens must be positive", ErrInvalidConfig)
	}
	mode, err := cfg.Str("output_mode", EncodingMultiHot)
	if err != nil {
		return nil, err
	}
	switch mode {
	case EncodingOneHot, EncodingMultiHot, EncodingCount:
	default:
		return nil, fmt.Errorf("%w: output_mode %q", ErrInvalidConfig, mode)
	}
	return &CategoryEncoding{base: base{name, KindCategoryEncoding}, NumTokens: numTokens, OutputMode: mode}, nil
}

func (l *CategoryEncoding) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.Int64); err != nil {
		return tensor.Spec{}, err
	}
	if l.OutputMode == EncodingOneHot && inputs[0].Width() != 1 {
		return tensor.Spec{}, fmt.Errorf("%w: one_hot expects one index per sample, got %s",
			tensor.ErrShapeMismatch, inputs[0])
	}
	return tensor.NewSpec(tensor.Float32, l.NumTokens), nil
}

func (l *CategoryEncoding) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	rows, width := in.Rows(), in.RowWidth()
	out := make([]float64, rows*l.NumTokens)
	for r := 0; r < rows; r++ {
		for c := 0; c < width; c++ {
			idx := in.Ints[r*width+c]
			if idx < 0 || int(idx) >= l.NumTokens {
				return nil, fmt.Errorf("%s: index %d out of range [0, %d)", l.name, idx, l.NumTokens)
			}
			cell := r*l.NumTokens + int(idx)
			if l.OutputMode == EncodingCount {
				out[cell]++
			} else {
				out[cell] = 1
			}
		}
	}
	return tensor.NewFloats([]int{rows, l.NumTokens}, out), nil
}

func (l *CategoryEncoding) Config() Config {
	return l.config("num_tokens", l.NumTokens, "output_mode", l.OutputMode)
}

// Embedding maps indexes to rows of a dense table. The table is initialised
// deterministically from Seed so a layer rebuilt from its config holds the
// same weights.
type Embedding struct {
	base
	InputDim  int
	OutputDim int
	Seed      int
	weights   []float64
}

const defaultEmbeddingSeed = 42

func newEmbedding(name string, cfg Config) (Layer, error) {
	inputDim, err := cfg.Int("input_dim", 0)
	if err != nil {
		return nil, err
	}
	outputDim, err := cfg.Int("output_dim", 0)
	if err != nil {
		return nil, err
	}
	if inputDim <= 0 || outputDim <= 0 {
		return nil, fmt.Errorf("%w: input_dim and output_dim must be positive", ErrInvalidConfig)
	}
	seed, err := cfg.Int("seed", defaultEmbeddingSeed)
	if err != nil {
		return nil, err
	}
	table := spagomat.NewEmptyDense(inputDim, outputDim)
	initializers.XavierUniform(table, initializers.Gain(ag.OpIdentity), rand.NewLockedRand(uint64(seed)))
	return &Embedding{
		base:      base{name, KindEmbedding},
		InputDim:  inputDim,
		OutputDim: outputDim,
		Seed:      seed,
		weights:   table.Data(),
	}, nil
}

func (l *Embedding) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.Int64); err != nil {
		return tensor.Spec{}, err
	}
	shape := append(copyShape(inputs[0].Shape), l.OutputDim)
	return tensor.Spec{DType: tensor.Float32, Shape: shape}, nil
}

func (l *Embedding) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]float64, 0, len(in.Ints)*l.OutputDim)
	for _, idx := range in.Ints {
		if idx < 0 || int(idx) >= l.InputDim {
			return nil, fmt.Errorf("%s: index %d out of range [0, %d)", l.name, idx, l.InputDim)
		}
		row := int(idx) * l.OutputDim
		out = append(out, l.weights[row:row+l.OutputDim]...)
	}
	return tensor.NewFloats(append(copyShape(in.Shape), l.OutputDim), out), nil
}

func (l *Embedding) Config() Config {
	return l.config("input_dim", l.InputDim, "output_dim", l.OutputDim, "seed", l.Seed)
}

// HashedCrossing hashes pairs of values into NumBins buckets.
type HashedCrossing struct {
	base
	NumBins int
}

func newHashedCrossing(name string, cfg Config) (Layer, error) {
	numBins, err := cfg.Int("num_bins", 0)
	if err != nil {
		return nil, err
	}
	if numBins <= 0 {
		return nil, fmt.Errorf("%w: num_bins must be positive", ErrInvalidConfig)
	}
	return &HashedCrossing{base: base{name, KindHashedCrossing}, NumBins: numBins}, nil
}

func (l *HashedCrossing) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 2, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if inputs[0].Width() != 1 || inputs[1].Width() != 1 {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects scalar features, got %s and %s",
			tensor.ErrShapeMismatch, l.kind, inputs[0], inputs[1])
	}
	return tensor.NewSpec(tensor.Int64, 1), nil
}

func (l *HashedCrossing) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	a, b := inputs[0], inputs[1]
	if a.Rows() != b.Rows() {
		return nil, fmt.Errorf("%w: crossing batches of %d and %d rows", tensor.ErrShapeMismatch, a.Rows(), b.Rows())
	}
	out := make([]int64, a.Rows())
	for i := range out {
		key := cell(a, i) + "_X_" + cell(b, i)
		out[i] = int64(farm.Fingerprint64([]byte(key)) % uint64(l.NumBins))
	}
	return tensor.NewInts([]int{a.Rows(), 1}, out), nil
}

func (l *HashedCrossing) Config() Config {
	return l.config("num_bins", l.NumBins)
}

func cell(v *tensor.Value, i int) string {
	switch v.DType {
	case tensor.Float32:
		return strconv.FormatFloat(v.Floats[i], 'g', -1, 64)
	case tensor.Int64:
		return strconv.FormatInt(v.Ints[i], 10)
	default:
		return v.Strings[i]
	}
}
