package processor

import (
	"fmt"

	"tabprep/pkg/features"
	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/pipeline"
	"tabprep/pkg/stats"
	"tabprep/pkg/tensor"
)

const defaultSequenceLength = 35

// input returns the placeholder of feature f, creating it with spec when the
// build has none yet.
func (a *assembly) input(f features.Feature, spec tensor.Spec) (*graph.Node, error) {
	if n, ok := a.inputs.Get(f.Name()); ok {
		return n, nil
	}
	n, err := a.graph.Input(f.Name(), spec)
	if err != nil {
		return nil, err
	}
	a.inputs.Replace(f.Name(), n)
	return n, nil
}

type assembleFunc func(f features.Feature, rec stats.Record) (*pipeline.Pipeline, error)

// build chains the pipeline of one feature onto its input and stores the
// result in target.
func (a *assembly) build(name string, kind features.Kind, target *graph.OutputSet, assemble assembleFunc) error {
	out, err := a.p.memo.do(name, func() (*graph.Node, error) {
		f, ok := a.p.space.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: feature %s", graph.ErrNodeNotFound, name)
		}
		if f.Kind() != kind {
			return nil, fmt.Errorf("%w: feature %s is declared %s but its statistics make it %s",
				ErrKindMismatch, name, f.Kind(), kind)
		}
		in, err := a.input(f, a.inputSpec(f))
		if err != nil {
			return nil, err
		}
		rec, _ := a.stats.Lookup(name)
		pl, err := assemble(f, rec)
		if err != nil {
			return nil, err
		}
		return pl.Chain(a.graph, in)
	})
	if err != nil {
		return err
	}
	return target.Set(name, out)
}

// customSteps appends the feature's own steps, each named after its kind
// and given the feature configuration.
func customSteps(pl *pipeline.Pipeline, f features.Feature) *pipeline.Pipeline {
	cfg := f.Config()
	for _, kind := range f.Preprocessors() {
		pl.Add(kind, kind+"_"+f.Name(), cfg)
	}
	return pl
}

func hasCustomSteps(f features.Feature) bool {
	return len(f.Preprocessors()) > 0
}

func (a *assembly) numeric(name string) error {
	return a.build(name, features.KindNumeric, a.plainOutputs, numericPipeline)
}

func numericPipeline(f features.Feature, rec stats.Record) (*pipeline.Pipeline, error) {
	name := f.Name()
	pl := pipeline.New(name)
	if hasCustomSteps(f) {
		return customSteps(pl, f), nil
	}
	cfg := f.Config()
	switch f.Type() {
	case features.FloatRescaled:
		scale, err := cfg.Float("scale", 1.0)
		if err != nil {
			return nil, err
		}
		offset, err := cfg.Float("offset", 0)
		if err != nil {
			return nil, err
		}
		return pl.Add(layers.KindRescaling, "rescale_"+name, layers.Config{"scale": scale, "offset": offset}), nil
	case features.FloatDiscretized:
		boundaries, err := cfg.Floats("bin_boundaries")
		if err != nil {
			return nil, err
		}
		if len(boundaries) == 0 {
			return nil, fmt.Errorf("%w: feature %s needs bin_boundaries", layers.ErrInvalidConfig, name)
		}
		return pl.
			Add(layers.KindDiscretization, "discretize_"+name, layers.Config{"bin_boundaries": boundaries}).
			Add(layers.KindCategoryEncoding, "one_hot_"+name, layers.Config{
				"num_tokens":  len(boundaries) + 1,
				"output_mode": layers.EncodingOneHot,
			}).
			Add(layers.KindCastToFloat32, "cast_to_float_"+name, nil), nil
	default:
		mean, err := rec.RequireMean(name)
		if err != nil {
			return nil, err
		}
		variance, err := rec.RequireVar(name)
		if err != nil {
			return nil, err
		}
		return pl.Add(layers.KindNormalization, "norm_"+name, layers.Config{"mean": mean, "variance": variance}), nil
	}
}

func (a *assembly) categorical(name string) error {
	return a.build(name, features.KindCategorical, a.categoricalOutputs, categoricalPipeline)
}

// categoricalPipeline maps values to vocabulary indexes, encodes them and
// flattens the result. Custom steps replace the lookup only; without a
// vocabulary there is nothing to size the encoding with, so it is skipped.
func categoricalPipeline(f features.Feature, rec stats.Record) (*pipeline.Pipeline, error) {
	name := f.Name()
	pl := pipeline.New(name)
	if hasCustomSteps(f) {
		customSteps(pl, f)
	} else {
		vocab, err := rec.RequireVocab(name)
		if err != nil {
			return nil, err
		}
		lookup := layers.KindStringLookup
		if f.Type() == features.IntegerCategorical {
			lookup = layers.KindIntegerLookup
		}
		pl.Add(lookup, "lookup_"+name, layers.Config{"vocabulary": vocab, "num_oov_indices": 1})
	}

	if rec.HasVocab() {
		tokens := len(rec.Vocab) + 1
		encoding := features.Embedding
		if c, ok := f.(*features.Categorical); ok {
			encoding = c.CategoryEncoding()
		}
		switch encoding {
		case features.OneHot:
			pl.Add(layers.KindCategoryEncoding, "one_hot_"+name, layers.Config{
				"num_tokens":  tokens,
				"output_mode": layers.EncodingOneHot,
			}).Add(layers.KindCastToFloat32, "cast_to_float_"+name, nil)
		default:
			size, err := f.Config().Int("embedding_size", features.EmbeddingSize(len(rec.Vocab)))
			if err != nil {
				return nil, err
			}
			pl.Add(layers.KindEmbedding, "embed_"+name, layers.Config{"input_dim": tokens, "output_dim": size})
		}
	}
	return pl.Add(layers.KindFlatten, "flatten_"+name, nil), nil
}

// text joins the categorical block when the outputs are concatenated and
// stays a separate entry in dict mode.
func (a *assembly) text(name string) error {
	target := a.plainOutputs
	if a.p.mode == OutputConcat {
		target = a.categoricalOutputs
	}
	return a.build(name, features.KindText, target, textPipeline)
}

func textPipeline(f features.Feature, rec stats.Record) (*pipeline.Pipeline, error) {
	name := f.Name()
	pl := pipeline.New(name)
	if hasCustomSteps(f) {
		return customSteps(pl, f), nil
	}
	vocab, err := rec.RequireVocab(name)
	if err != nil {
		return nil, err
	}
	cfg := f.Config()
	if !cfg.Has("output_sequence_length") {
		cfg["output_sequence_length"] = defaultSequenceLength
	}
	stopWords, err := cfg.Strings("stop_words")
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", name, err)
	}
	if len(stopWords) > 0 {
		pl.Add(layers.KindTextPreprocessing, "text_preprocessor_"+name, layers.Config{"stop_words": stopWords})
	}
	return pl.
		Add(layers.KindTextVectorization, "text_vectorizer_"+name, cfg.With("vocabulary", vocab)).
		Add(layers.KindCastToFloat32, "cast_to_float_"+name, nil), nil
}

func (a *assembly) date(name string) error {
	return a.build(name, features.KindDate, a.plainOutputs, datePipeline)
}

// datePipeline reads the format from "date_format", falling back to the
// shorter "format" key.
func datePipeline(f features.Feature, _ stats.Record) (*pipeline.Pipeline, error) {
	name := f.Name()
	pl := pipeline.New(name)
	if hasCustomSteps(f) {
		return customSteps(pl, f), nil
	}
	cfg := f.Config()
	format, err := cfg.Str("date_format", "")
	if err != nil {
		return nil, err
	}
	if format == "" {
		if format, err = cfg.Str("format", layers.DefaultDateFormat); err != nil {
			return nil, err
		}
	}
	season, err := cfg.Bool("add_season", false)
	if err != nil {
		return nil, err
	}
	pl.Add(layers.KindDateParsing, "date_parsing_"+name, layers.Config{"date_format": format}).
		Add(layers.KindDateEncoding, "date_encoding_"+name, nil)
	if season {
		pl.Add(layers.KindSeason, "date_season_"+name, nil)
	}
	return pl, nil
}

// buildCrosses hashes every declared pair into its own plain output,
// replacing an earlier cross with the same key.
func (a *assembly) buildCrosses() error {
	defer timed(a.p.log, "crosses")()
	for _, c := range a.p.crosses {
		var ins []*graph.Node
		for _, name := range []string{c.A, c.B} {
			f, ok := a.p.space.Get(name)
			if !ok {
				return fmt.Errorf("%w: %s in %s", ErrUnknownCrossFeature, name, c.Key())
			}
			in, err := a.input(f, tensor.NewSpec(f.DType(), 1))
			if err != nil {
				return err
			}
			ins = append(ins, in)
		}
		key := c.Key()
		out, err := pipeline.New(key).
			Add(layers.KindHashedCrossing, "cross_"+key, layers.Config{"num_bins": c.Bins}).
			Add(layers.KindCastToFloat32, "cast_to_float_"+key, nil).
			Chain(a.graph, ins...)
		if err != nil {
			return err
		}
		a.plainOutputs.Replace(key, out)
	}
	return nil
}
