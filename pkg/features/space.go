package features

import (
	"fmt"
)

// Declaration names one input column. Spec is a Feature, a Type, a type
// string or a *Custom.
type Declaration struct {
	Name string
	Spec interface{}
}

// Space is the normalized feature set. Every feature appears in exactly one
// of the per-kind name lists, in declaration order.
type Space struct {
	features map[string]Feature
	order    []string

	Numeric     []string
	Categorical []string
	Text        []string
	Date        []string
}

// Normalize turns declarations into typed descriptors partitioned by kind.
func Normalize(decls []Declaration) (*Space, error) {
	s := &Space{features: make(map[string]Feature, len(decls))}
	for _, d := range decls {
		if _, dup := s.features[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFeature, d.Name)
		}
		f, err := resolve(d)
		if err != nil {
			return nil, err
		}
		s.features[d.Name] = f
		s.order = append(s.order, d.Name)
		switch f.Kind() {
		case KindNumeric:
			s.Numeric = append(s.Numeric, d.Name)
		case KindCategorical:
			s.Categorical = append(s.Categorical, d.Name)
		case KindText:
			s.Text = append(s.Text, d.Name)
		case KindDate:
			s.Date = append(s.Date, d.Name)
		}
	}
	return s, nil
}

func resolve(d Declaration) (Feature, error) {
	switch spec := d.Spec.(type) {
	case Feature:
		return adopt(d.Name, spec)
	case *Custom:
		f, err := fromType(d.Name, spec.Type)
		if err != nil {
			return nil, err
		}
		desc := f.descriptor()
		desc.Steps = append([]string(nil), spec.Preprocessors...)
		desc.Kwargs = spec.Kwargs.Clone()
		if c, ok := f.(*Categorical); ok {
			c.Encoding = spec.Encoding
		}
		return f, nil
	case Type:
		return fromType(d.Name, spec)
	case string:
		t, err := ParseType(spec)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", d.Name, err)
		}
		return fromType(d.Name, t)
	}
	return nil, fmt.Errorf("%w: feature %s declared as %T", ErrUnsupportedFeatureType, d.Name, d.Spec)
}

// adopt keeps a typed descriptor, filling in its name and default type.
func adopt(name string, f Feature) (Feature, error) {
	desc := f.descriptor()
	if desc.FeatureName == "" {
		desc.FeatureName = name
	} else if desc.FeatureName != name {
		return nil, fmt.Errorf("feature %s: descriptor is named %s", name, desc.FeatureName)
	}
	if desc.FeatureType == "" {
		desc.FeatureType = defaultType(f.Kind())
	}
	kind, err := desc.FeatureType.Kind()
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", name, err)
	}
	if kind != f.Kind() {
		return nil, fmt.Errorf("%w: feature %s is a %s descriptor with type %s",
			ErrUnsupportedFeatureType, name, f.Kind(), desc.FeatureType)
	}
	return f, nil
}

func defaultType(k Kind) Type {
	switch k {
	case KindCategorical:
		return StringCategorical
	case KindText:
		return TextType
	case KindDate:
		return DateType
	}
	return Float
}

func fromType(name string, t Type) (Feature, error) {
	kind, err := t.Kind()
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", name, err)
	}
	switch kind {
	case KindNumeric:
		return NewNumerical(name, t), nil
	case KindCategorical:
		return NewCategorical(name, t, Embedding), nil
	case KindText:
		return NewText(name), nil
	default:
		return NewDate(name), nil
	}
}

func (s *Space) Get(name string) (Feature, bool) {
	f, ok := s.features[name]
	return f, ok
}

// Names returns every feature name in declaration order.
func (s *Space) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Space) Len() int {
	return len(s.order)
}

// Is reports whether name is declared with kind k.
func (s *Space) Is(name string, k Kind) bool {
	f, ok := s.features[name]
	return ok && f.Kind() == k
}
