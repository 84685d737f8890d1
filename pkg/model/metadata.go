package model

import (
	"encoding/json"
	"fmt"

	"tabprep/pkg/stats"
)

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// Names returns the names ordered by index.
func (f NameMap) Names() []string {
	names := make([]string, f.Size())
	for i := range names {
		names[i] = f.IndexToName[i]
	}
	return names
}

func NewNameMap(names ...string) NameMap {
	m := NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
	for i, name := range names {
		m.Set(name, i)
	}
	return m
}

// Cross hashes the pair (A, B) into Bins buckets. It is stored as the
// JSON triple [a, b, bins].
type Cross struct {
	A    string
	B    string
	Bins int
}

// Key is the output name of the crossed feature.
func (c Cross) Key() string {
	return c.A + "_x_" + c.B
}

func (c Cross) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.A, c.B, c.Bins})
}

func (c *Cross) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("feature cross must have 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &c.A); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &c.B); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &c.Bins)
}

const (
	OutputConcat = "concat"
	OutputDict   = "dict"
)

// Metadata describes how a model was built. It is persisted next to the
// graph and returned unchanged on load.
type Metadata struct {
	FeatureStatistics   *stats.Statistics `json:"feature_statistics"`
	NumericFeatures     []string          `json:"numeric_features"`
	CategoricalFeatures []string          `json:"categorical_features"`
	TextFeatures        []string          `json:"text_features"`
	DateFeatures        []string          `json:"date_features"`
	FeatureCrosses      []Cross           `json:"feature_crosses"`
	OutputMode          string            `json:"output_mode"`
}

func (d *Metadata) FeatureCount() int {
	return len(d.NumericFeatures) + len(d.CategoricalFeatures) + len(d.TextFeatures) + len(d.DateFeatures)
}
