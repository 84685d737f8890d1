// Package layers provides the registry of named preprocessing operators.
//
// A Layer knows three things: the symbolic type of its output given the
// types of its inputs, how to evaluate itself on a concrete batch, and its
// keyword configuration. FromConfig(Kind(), Config()) must rebuild an
// equivalent layer, which is what model persistence relies on.
package layers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tabprep/pkg/tensor"
)

var ErrUnknownLayer = errors.New("unknown layer kind")

const (
	KindNormalization     = "Normalization"
	KindRescaling         = "Rescaling"
	KindDiscretization    = "Discretization"
	KindCategoryEncoding  = "CategoryEncoding"
	KindStringLookup      = "StringLookup"
	KindIntegerLookup     = "IntegerLookup"
	KindEmbedding         = "Embedding"
	KindFlatten           = "Flatten"
	KindReshape           = "Reshape"
	KindConcatenate       = "Concatenate"
	KindHashedCrossing    = "HashedCrossing"
	KindTextPreprocessing = "TextPreprocessing"
	KindTextVectorization = "TextVectorization"
	KindDateParsing       = "DateParsing"
	KindDateEncoding      = "DateEncoding"
	KindSeason            = "Season"
	KindCastToFloat32     = "CastToFloat32"
	KindTransformerBlock  = "TransformerBlock"
)

type Layer interface {
	Name() string
	Kind() string
	OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error)
	Call(inputs ...*tensor.Value) (*tensor.Value, error)
	Config() Config
}

type Constructor func(name string, cfg Config) (Layer, error)

// Registry maps layer kinds to constructors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding every built-in layer.
func NewRegistry() *Registry {
	r := &Registry{ctors: map[string]Constructor{}}
	r.Register(KindNormalization, newNormalization)
	r.Register(KindRescaling, newRescaling)
	r.Register(KindDiscretization, newDiscretization)
	r.Register(KindCastToFloat32, newCastToFloat32)
	r.Register(KindCategoryEncoding, newCategoryEncoding)
	r.Register(KindStringLookup, newStringLookup)
	r.Register(KindIntegerLookup, newIntegerLookup)
	r.Register(KindEmbedding, newEmbedding)
	r.Register(KindHashedCrossing, newHashedCrossing)
	r.Register(KindFlatten, newFlatten)
	r.Register(KindReshape, newReshape)
	r.Register(KindConcatenate, newConcatenate)
	r.Register(KindTextPreprocessing, newTextPreprocessing)
	r.Register(KindTextVectorization, newTextVectorization)
	r.Register(KindDateParsing, newDateParsing)
	r.Register(KindDateEncoding, newDateEncoding)
	r.Register(KindSeason, newSeason)
	r.Register(KindTransformerBlock, newTransformerBlock)
	return r
}

// Default is the registry used when none is configured.
var Default = NewRegistry()

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) New(kind, name string, cfg Config) (Layer, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, kind)
	}
	if cfg == nil {
		cfg = Config{}
	}
	l, err := ctor(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s layer %s: %w", kind, name, err)
	}
	return l, nil
}

// FromConfig rebuilds a layer from the output of its Config method.
func (r *Registry) FromConfig(kind string, cfg Config) (Layer, error) {
	name, err := cfg.Str("name", "")
	if err != nil {
		return nil, err
	}
	return r.New(kind, name, cfg)
}

type base struct {
	name string
	kind string
}

func (b base) Name() string {
	return b.name
}

func (b base) Kind() string {
	return b.kind
}

func (b base) config(kv ...interface{}) Config {
	cfg := Config{"name": b.name}
	for i := 0; i+1 < len(kv); i += 2 {
		cfg[kv[i].(string)] = kv[i+1]
	}
	return cfg
}

func expectInputs(kind string, n int, got int) error {
	if n != got {
		return fmt.Errorf("%s expects %d input(s), got %d", kind, n, got)
	}
	return nil
}

func expectNumeric(kind string, spec tensor.Spec) error {
	if !spec.DType.Numeric() {
		return fmt.Errorf("%w: %s expects a numeric input, got %s", tensor.ErrDTypeMismatch, kind, spec)
	}
	return nil
}

func expectDType(kind string, spec tensor.Spec, dtype tensor.DType) error {
	if spec.DType != dtype {
		return fmt.Errorf("%w: %s expects %s input, got %s", tensor.ErrDTypeMismatch, kind, dtype, spec)
	}
	return nil
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
