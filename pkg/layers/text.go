package layers

import (
	"fmt"
	"strings"
	"unicode"

	"tabprep/pkg/tensor"
)

// TextPreprocessing lowercases text, strips punctuation and drops stop words.
type TextPreprocessing struct {
	base
	StopWords []string
	stop      map[string]struct{}
}

func newTextPreprocessing(name string, cfg Config) (Layer, error) {
	stopWords, err := cfg.Strings("stop_words")
	if err != nil {
		return nil, err
	}
	stop := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	return &TextPreprocessing{base: base{name, KindTextPreprocessing}, StopWords: stopWords, stop: stop}, nil
}

func (l *TextPreprocessing) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.String); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.Spec{DType: tensor.String, Shape: copyShape(inputs[0].Shape)}, nil
}

func (l *TextPreprocessing) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]string, len(in.Strings))
	for i, s := range in.Strings {
		tokens := Tokenize(s)
		kept := tokens[:0]
		for _, t := range tokens {
			if _, drop := l.stop[t]; !drop {
				kept = append(kept, t)
			}
		}
		out[i] = strings.Join(kept, " ")
	}
	return tensor.NewStrings(copyShape(in.Shape), out), nil
}

func (l *TextPreprocessing) Config() Config {
	return l.config("stop_words", l.StopWords)
}

// Tokenize lowercases s, strips punctuation and splits on whitespace. The
// statistics collector uses the same function to build text vocabularies.
func Tokenize(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(cleaned)
}

// TextVectorization maps text to token indexes. In int mode index 0 is
// padding and 1 is the OOV token, vocabulary entries start at 2. In
// multi_hot and count modes index 0 is OOV and vocabulary entries start at 1.
type TextVectorization struct {
	base
	Vocabulary     []string
	SequenceLength int
	OutputMode     string
	Standardize    string
	index          map[string]int
}

const (
	VectorizeInt      = "int"
	VectorizeMultiHot = "multi_hot"
	VectorizeCount    = "count"

	StandardizeLowerStrip = "lower_and_strip_punctuation"
	StandardizeNone       = "none"
)

func newTextVectorization(name string, cfg Config) (Layer, error) {
	vocab, err := cfg.Strings("vocabulary")
	if err != nil {
		return nil, err
	}
	maxTokens, err := cfg.Int("max_tokens", 0)
	if err != nil {
		return nil, err
	}
	if maxTokens > 0 && len(vocab) > maxTokens {
		vocab = vocab[:maxTokens]
	}
	seqLen, err := cfg.Int("output_sequence_length", 0)
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Str("output_mode", VectorizeInt)
	if err != nil {
		return nil, err
	}
	switch mode {
	case VectorizeInt:
		if seqLen <= 0 {
			return nil, fmt.Errorf("%w: int output requires output_sequence_length", ErrInvalidConfig)
		}
	case VectorizeMultiHot, VectorizeCount:
	default:
		return nil, fmt.Errorf("%w: output_mode %q", ErrInvalidConfig, mode)
	}
	standardize, err := cfg.Str("standardize", StandardizeLowerStrip)
	if err != nil {
		return nil, err
	}
	if standardize != StandardizeLowerStrip && standardize != StandardizeNone {
		return nil, fmt.Errorf("%w: standardize %q", ErrInvalidConfig, standardize)
	}
	index := make(map[string]int, len(vocab))
	for i, token := range vocab {
		if _, dup := index[token]; dup {
			return nil, fmt.Errorf("%w: duplicate vocabulary token %q", ErrInvalidConfig, token)
		}
		index[token] = i
	}
	return &TextVectorization{
		base:           base{name, KindTextVectorization},
		Vocabulary:     vocab,
		SequenceLength: seqLen,
		OutputMode:     mode,
		Standardize:    standardize,
		index:          index,
	}, nil
}

func (l *TextVectorization) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.String); err != nil {
		return tensor.Spec{}, err
	}
	if inputs[0].Width() != 1 {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects one string per sample, got %s",
			tensor.ErrShapeMismatch, l.kind, inputs[0])
	}
	if l.OutputMode == VectorizeInt {
		return tensor.NewSpec(tensor.Int64, l.SequenceLength), nil
	}
	return tensor.NewSpec(tensor.Float32, len(l.Vocabulary)+1), nil
}

func (l *TextVectorization) tokens(s string) []string {
	if l.Standardize == StandardizeNone {
		return strings.Fields(s)
	}
	return Tokenize(s)
}

func (l *TextVectorization) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	rows := in.Rows()
	if l.OutputMode == VectorizeInt {
		out := make([]int64, rows*l.SequenceLength)
		for r, s := range in.Strings {
			for i, t := range l.tokens(s) {
				if i == l.SequenceLength {
					break
				}
				idx, ok := l.index[t]
				if ok {
					out[r*l.SequenceLength+i] = int64(idx + 2)
				} else {
					out[r*l.SequenceLength+i] = 1
				}
			}
		}
		return tensor.NewInts([]int{rows, l.SequenceLength}, out), nil
	}

	width := len(l.Vocabulary) + 1
	out := make([]float64, rows*width)
	for r, s := range in.Strings {
		for _, t := range l.tokens(s) {
			col := 0
			if idx, ok := l.index[t]; ok {
				col = idx + 1
			}
			if l.OutputMode == VectorizeCount {
				out[r*width+col]++
			} else {
				out[r*width+col] = 1
			}
		}
	}
	return tensor.NewFloats([]int{rows, width}, out), nil
}

func (l *TextVectorization) Config() Config {
	return l.config(
		"vocabulary", l.Vocabulary,
		"output_sequence_length", l.SequenceLength,
		"output_mode", l.OutputMode,
		"standardize", l.Standardize,
	)
}
