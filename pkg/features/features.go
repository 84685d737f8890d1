// Package features describes input columns: their declared type, the kind of
// pipeline they get and the per-feature configuration handed to it.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

var (
	ErrUnsupportedFeatureType = errors.New("unsupported feature type")
	ErrDuplicateFeature       = errors.New("duplicate feature")
)

type Kind int

const (
	KindNumeric Kind = iota
	KindCategorical
	KindText
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Type string

const (
	Float              Type = "FLOAT"
	FloatNormalized    Type = "FLOAT_NORMALIZED"
	FloatRescaled      Type = "FLOAT_RESCALED"
	FloatDiscretized   Type = "FLOAT_DISCRETIZED"
	StringCategorical  Type = "STRING_CATEGORICAL"
	IntegerCategorical Type = "INTEGER_CATEGORICAL"
	TextType           Type = "TEXT"
	DateType           Type = "DATE"
)

var types = []Type{
	Float, FloatNormalized, FloatRescaled, FloatDiscretized,
	StringCategorical, IntegerCategorical, TextType, DateType,
}

// Types lists every supported type tag.
func Types() []Type {
	return append([]Type(nil), types...)
}

// ParseType resolves a type tag case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFeatureType, s)
}

func (t Type) Kind() (Kind, error) {
	switch t {
	case Float, FloatNormalized, FloatRescaled, FloatDiscretized:
		return KindNumeric, nil
	case StringCategorical, IntegerCategorical:
		return KindCategorical, nil
	case TextType:
		return KindText, nil
	case DateType:
		return KindDate, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFeatureType, string(t))
}

// DType is the dtype of the raw column for this type.
func (t Type) DType() tensor.DType {
	switch t {
	case Float, FloatNormalized, FloatRescaled, FloatDiscretized:
		return tensor.Float32
	case IntegerCategorical:
		return tensor.Int64
	}
	return tensor.String
}

type CategoryEncoding string

const (
	Embedding CategoryEncoding = "EMBEDDING"
	OneHot    CategoryEncoding = "ONE_HOT_ENCODING"
)

// Feature is implemented by *Numerical, *Categorical, *Text and *Date only.
type Feature interface {
	Name() string
	Type() Type
	Kind() Kind
	DType() tensor.DType
	// Preprocessors are registry kinds replacing the default pipeline.
	Preprocessors() []string
	// Config returns a copy of the feature's keyword configuration.
	Config() layers.Config

	descriptor() *Descriptor
}

// Descriptor is the payload shared by every feature kind.
type Descriptor struct {
	FeatureName   string
	FeatureType   Type
	Steps         []string
	Kwargs        layers.Config
	OverrideDType tensor.DType
}

func (d *Descriptor) Name() string {
	return d.FeatureName
}

func (d *Descriptor) Type() Type {
	return d.FeatureType
}

func (d *Descriptor) DType() tensor.DType {
	if d.OverrideDType != "" {
		return d.OverrideDType
	}
	return d.FeatureType.DType()
}

func (d *Descriptor) Preprocessors() []string {
	return append([]string(nil), d.Steps...)
}

func (d *Descriptor) Config() layers.Config {
	return d.Kwargs.Clone()
}

func (d *Descriptor) descriptor() *Descriptor {
	return d
}

type Numerical struct {
	Descriptor
}

func NewNumerical(name string, t Type) *Numerical {
	return &Numerical{Descriptor{FeatureName: name, FeatureType: t}}
}

func (*Numerical) Kind() Kind { return KindNumeric }

type Categorical struct {
	Descriptor
	Encoding CategoryEncoding
}

func NewCategorical(name string, t Type, enc CategoryEncoding) *Categorical {
	return &Categorical{Descriptor: Descriptor{FeatureName: name, FeatureType: t}, Encoding: enc}
}

func (*Categorical) Kind() Kind { return KindCategorical }

// CategoryEncoding defaults to Embedding.
func (c *Categorical) CategoryEncoding() CategoryEncoding {
	if c.Encoding == "" {
		return Embedding
	}
	return c.Encoding
}

type Text struct {
	Descriptor
}

func NewText(name string) *Text {
	return &Text{Descriptor{FeatureName: name, FeatureType: TextType}}
}

func (*Text) Kind() Kind { return KindText }

type Date struct {
	Descriptor
}

func NewDate(name string) *Date {
	return &Date{Descriptor{FeatureName: name, FeatureType: DateType}}
}

func (*Date) Kind() Kind { return KindDate }

// Custom declares a feature of a given type whose pipeline is replaced by
// Preprocessors, each built with Kwargs.
type Custom struct {
	Type          Type
	Preprocessors []string
	Kwargs        layers.Config
	Encoding      CategoryEncoding
}

const maxEmbeddingSize = 500

// EmbeddingSize is the default embedding width for a vocabulary of
// vocabSize tokens plus one OOV index.
func EmbeddingSize(vocabSize int) int {
	n := float64(vocabSize + 1)
	size := int(math.Round(1.6 * math.Pow(n, 0.56)))
	if size > maxEmbeddingSize {
		return maxEmbeddingSize
	}
	if size < 1 {
		return 1
	}
	return size
}
