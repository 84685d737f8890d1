package processor

import (
	"context"

	"tabprep/pkg/features"
	"tabprep/pkg/stats"
	"tabprep/pkg/tensor"
	"tabprep/pkg/worker"
)

// groups partitions the declared features by the pipeline they get, each
// list in declaration order.
type groups struct {
	numeric     []string
	categorical []string
	text        []string
	date        []string
}

func (g groups) all() []string {
	out := make([]string, 0, len(g.numeric)+len(g.categorical)+len(g.text)+len(g.date))
	out = append(out, g.numeric...)
	out = append(out, g.categorical...)
	out = append(out, g.text...)
	return append(out, g.date...)
}

// group assigns features by the content of their statistics: a mean makes
// a feature numeric and a vocabulary makes it categorical, unless it is
// declared as text. Text and date features follow their declaration, as do
// features without statistics.
func (p *Processor) group(s *stats.Statistics) groups {
	var g groups
	for _, name := range p.space.Names() {
		f, _ := p.space.Get(name)
		rec, has := s.Lookup(name)
		switch {
		case f.Kind() == features.KindText:
			g.text = append(g.text, name)
		case f.Kind() == features.KindDate:
			g.date = append(g.date, name)
		case has && rec.HasMean():
			g.numeric = append(g.numeric, name)
		case has && rec.HasVocab():
			g.categorical = append(g.categorical, name)
		case f.Kind() == features.KindNumeric:
			g.numeric = append(g.numeric, name)
		default:
			g.categorical = append(g.categorical, name)
		}
	}
	for _, name := range s.Names() {
		if _, ok := p.space.Get(name); !ok {
			p.log.Info("Skipping statistics of undeclared feature", "feature", name)
		}
	}
	return g
}

// inputSpec prefers the dtype recorded in the statistics over the declared
// one.
func (a *assembly) inputSpec(f features.Feature) tensor.Spec {
	dtype := f.DType()
	if rec, ok := a.stats.Lookup(f.Name()); ok && rec.DType != "" {
		dtype = rec.DType
	}
	return tensor.NewSpec(dtype, 1)
}

func (a *assembly) buildInputs(ctx context.Context, g groups) error {
	defer timed(a.p.log, "inputs")()
	var tasks []worker.Task
	for _, name := range g.all() {
		name := name
		tasks = append(tasks, worker.Task{Name: name, Run: func(ctx context.Context) error {
			f, _ := a.p.space.Get(name)
			_, err := a.input(f, a.inputSpec(f))
			return err
		}})
	}
	return a.pool.Run(ctx, tasks...)
}

// buildFeatures dispatches the kind groups one after another, the features
// of a group concurrently.
func (a *assembly) buildFeatures(ctx context.Context, g groups) error {
	dispatch := []struct {
		kind  features.Kind
		names []string
		build func(name string) error
	}{
		{features.KindNumeric, g.numeric, a.numeric},
		{features.KindCategorical, g.categorical, a.categorical},
		{features.KindText, g.text, a.text},
		{features.KindDate, g.date, a.date},
	}
	for _, d := range dispatch {
		if len(d.names) == 0 {
			continue
		}
		done := timed(a.p.log, d.kind.String()+" features")
		tasks := make([]worker.Task, len(d.names))
		for i, name := range d.names {
			name, build := name, d.build
			tasks[i] = worker.Task{Name: name, Run: func(ctx context.Context) error {
				return build(name)
			}}
		}
		err := a.pool.Run(ctx, tasks...)
		done()
		if err != nil {
			return err
		}
	}
	return nil
}
