package stats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/stat"

	"tabprep/pkg/features"
	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

// Source yields column batches keyed by feature name and returns io.EOF
// once exhausted.
type Source interface {
	Next(ctx context.Context) (map[string]*tensor.Value, error)
}

// Collector computes statistics for the declared numeric, categorical and
// text features of a feature space by scanning a Source once.
type Collector struct {
	source Source
	space  *features.Space
	log    logr.Logger
}

type CollectorOption func(*Collector)

var WithLogr = func(log logr.Logger) CollectorOption {
	return func(c *Collector) {
		c.log = log
	}
}

func NewCollector(source Source, space *features.Space, opts ...CollectorOption) *Collector {
	c := &Collector{source: source, space: space, log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// moments merges per-batch mean and population variance (Chan et al.).
type moments struct {
	n    float64
	mean float64
	m2   float64
}

func (m *moments) add(xs []float64) {
	if len(xs) == 0 {
		return
	}
	mean, variance := stat.PopMeanVariance(xs, nil)
	nb := float64(len(xs))
	delta := mean - m.mean
	total := m.n + nb
	m.mean += delta * nb / total
	m.m2 += variance*nb + delta*delta*m.n*nb/total
	m.n = total
}

func (m *moments) record() (Record, bool) {
	if m.n == 0 {
		return Record{}, false
	}
	return Record{Mean: Float(m.mean), Var: Float(m.m2 / m.n), DType: tensor.Float32}, true
}

type counter map[string]int

// vocabulary orders tokens by decreasing frequency, ties alphabetically.
func (c counter) vocabulary() []string {
	vocab := make([]string, 0, len(c))
	for token := range c {
		vocab = append(vocab, token)
	}
	sort.Slice(vocab, func(i, j int) bool {
		if c[vocab[i]] != c[vocab[j]] {
			return c[vocab[i]] > c[vocab[j]]
		}
		return vocab[i] < vocab[j]
	})
	return vocab
}

func (c *Collector) Compute(ctx context.Context) (*Statistics, error) {
	numeric := map[string]*moments{}
	for _, name := range c.space.Numeric {
		numeric[name] = &moments{}
	}
	categorical := map[string]counter{}
	for _, name := range c.space.Categorical {
		categorical[name] = counter{}
	}
	text := map[string]counter{}
	for _, name := range c.space.Text {
		text[name] = counter{}
	}

	batches := 0
	for {
		batch, err := c.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read batch %d: %w", batches, err)
		}
		batches++

		for name, m := range numeric {
			v, ok := batch[name]
			if !ok {
				continue
			}
			xs, err := v.AsFloats()
			if err != nil {
				return nil, fmt.Errorf("feature %s: %w", name, err)
			}
			m.add(xs)
		}
		for name, counts := range categorical {
			if v, ok := batch[name]; ok {
				for i := 0; i < v.Len(); i++ {
					counts[cellString(v, i)]++
				}
			}
		}
		for name, counts := range text {
			if v, ok := batch[name]; ok {
				for i := 0; i < v.Len(); i++ {
					for _, token := range layers.Tokenize(cellString(v, i)) {
						counts[token]++
					}
				}
			}
		}
		c.log.V(1).Info("Statistics batch processed", "batch", batches)
	}

	s := New()
	for name, m := range numeric {
		if r, ok := m.record(); ok {
			s.Numeric[name] = r
		}
	}
	for name, counts := range categorical {
		if len(counts) == 0 {
			continue
		}
		f, _ := c.space.Get(name)
		s.Categorical[name] = Record{Vocab: counts.vocabulary(), DType: f.DType()}
	}
	for name, counts := range text {
		if len(counts) == 0 {
			continue
		}
		s.Text[name] = Record{Vocab: counts.vocabulary(), DType: tensor.String}
	}
	c.log.Info("Statistics computed", "batches", batches,
		"numeric", len(s.Numeric), "categorical", len(s.Categorical), "text", len(s.Text))
	return s, nil
}

func cellString(v *tensor.Value, i int) string {
	switch v.DType {
	case tensor.Int64:
		return strconv.FormatInt(v.Ints[i], 10)
	case tensor.Float32:
		return strconv.FormatFloat(v.Floats[i], 'g', -1, 64)
	}
	return v.Strings[i]
}
