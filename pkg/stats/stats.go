// Package stats holds the dataset statistics that parameterize default
// feature pipelines, plus a collector computing them from batches.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"tabprep/pkg/tensor"
)

var ErrMissingStatistic = errors.New("missing statistic")

// Record is the statistics of one feature. Absent fields are nil, which
// keeps them distinct from zero values.
type Record struct {
	Mean  *float64
	Var   *float64
	Vocab []string
	DType tensor.DType
}

type recordJSON struct {
	Mean  *float64  `json:"mean,omitempty"`
	Var   *float64  `json:"var,omitempty"`
	Vocab *[]string `json:"vocab,omitempty"`
	DType string    `json:"dtype,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{Mean: r.Mean, Var: r.Var, DType: string(r.DType)}
	if r.Vocab != nil {
		out.Vocab = &r.Vocab
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts dtype aliases such as "float64" or "str".
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Record{Mean: in.Mean, Var: in.Var}
	if in.Vocab != nil {
		r.Vocab = *in.Vocab
		if r.Vocab == nil {
			r.Vocab = []string{}
		}
	}
	if in.DType != "" {
		dtype, err := tensor.ParseDType(in.DType)
		if err != nil {
			return err
		}
		r.DType = dtype
	}
	return nil
}

func (r Record) HasMean() bool  { return r.Mean != nil }
func (r Record) HasVocab() bool { return r.Vocab != nil }

func (r Record) RequireMean(feature string) (float64, error) {
	if r.Mean == nil {
		return 0, missing(feature, "mean")
	}
	return *r.Mean, nil
}

func (r Record) RequireVar(feature string) (float64, error) {
	if r.Var == nil {
		return 0, missing(feature, "var")
	}
	return *r.Var, nil
}

func (r Record) RequireVocab(feature string) ([]string, error) {
	if r.Vocab == nil {
		return nil, missing(feature, "vocab")
	}
	return r.Vocab, nil
}

func missing(feature, key string) error {
	return fmt.Errorf("%w: feature %s has no %q", ErrMissingStatistic, feature, key)
}

// Float returns a pointer to v, for building records by hand.
func Float(v float64) *float64 {
	return &v
}

// Statistics groups records the way the cache file stores them.
type Statistics struct {
	Numeric     map[string]Record `json:"numeric_stats"`
	Categorical map[string]Record `json:"categorical_stats"`
	Text        map[string]Record `json:"text"`
}

func New() *Statistics {
	return &Statistics{
		Numeric:     map[string]Record{},
		Categorical: map[string]Record{},
		Text:        map[string]Record{},
	}
}

func (s *Statistics) Empty() bool {
	return s == nil || len(s.Numeric)+len(s.Categorical)+len(s.Text) == 0
}

// Lookup finds the record of a feature in any group.
func (s *Statistics) Lookup(name string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, group := range []map[string]Record{s.Numeric, s.Categorical, s.Text} {
		if r, ok := group[name]; ok {
			return r, true
		}
	}
	return Record{}, false
}

// Names returns every feature with a record, sorted.
func (s *Statistics) Names() []string {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, group := range []map[string]Record{s.Numeric, s.Categorical, s.Text} {
		for name := range group {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadCached reads a statistics file. A missing file yields empty
// statistics and no error.
func LoadCached(path string) (*Statistics, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}
	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode statistics %s: %w", path, err)
	}
	s.fill()
	return s, nil
}

func (s *Statistics) fill() {
	if s.Numeric == nil {
		s.Numeric = map[string]Record{}
	}
	if s.Categorical == nil {
		s.Categorical = map[string]Record{}
	}
	if s.Text == nil {
		s.Text = map[string]Record{}
	}
}

func Save(path string, s *Statistics) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return nil
}
