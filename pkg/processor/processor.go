// Package processor assembles the preprocessing model of a declared feature
// space: one pipeline per feature, the feature crosses and the fusion of
// their outputs into a model-ready representation.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"tabprep/pkg/features"
	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/model"
	"tabprep/pkg/stats"
	"tabprep/pkg/worker"
)

var (
	ErrNoFeatures            = errors.New("no features declared")
	ErrNoStatisticsCollector = errors.New("statistics missing and no collector configured")
	ErrNoOutputs             = errors.New("no outputs to fuse")
	ErrUnknownCrossFeature   = errors.New("cross references an undeclared feature")
	ErrKindMismatch          = errors.New("feature kind does not match its statistics")
	ErrUnknownOutputMode     = errors.New("unknown output mode")
)

type State int

const (
	StateConstructed State = iota
	StateSpecsNormalized
	StateStatsReady
	StateInputsBuilt
	StateFeaturesBuilt
	StateCrossesBuilt
	StateOutputsFused
	StateGraphBuilt
	StateFailed
)

var stateNames = [...]string{
	"CONSTRUCTED", "SPECS_NORMALIZED", "STATS_READY", "INPUTS_BUILT", "FEATURES_BUILT",
	"CROSSES_BUILT", "OUTPUTS_FUSED", "GRAPH_BUILT", "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Processor builds a preprocessing model from feature declarations and
// dataset statistics. Builds are serialized; each one starts from an empty
// graph.
type Processor struct {
	log              logr.Logger
	space            *features.Space
	stats            *stats.Statistics
	statsPath        string
	collectorFactory func(space *features.Space) StatisticsCollector
	overwriteStats   bool
	crosses          []Cross
	mode             OutputMode
	transformer      TransformerConfig
	poolSize         int
	registry         *layers.Registry
	memo             memo

	buildMu sync.Mutex

	mu    sync.Mutex
	state State
	model *model.Model
}

// New normalizes the declarations and loads cached statistics when a
// statistics path is set and no statistics were given.
func New(decls []features.Declaration, opts ...Option) (*Processor, error) {
	p := &Processor{
		log:         logr.Discard(),
		mode:        OutputConcat,
		transformer: DefaultTransformerConfig(),
		memo:        memo{enabled: true},
		state:       StateConstructed,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = layers.Default
	}
	if p.mode != OutputConcat && p.mode != OutputDict {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutputMode, p.mode)
	}
	p.transformer = withTransformerDefaults(p.transformer)

	space, err := features.Normalize(decls)
	if err != nil {
		return nil, err
	}
	p.space = space
	p.setState(StateSpecsNormalized)

	if p.stats == nil && p.statsPath != "" {
		cached, err := stats.LoadCached(p.statsPath)
		if err != nil {
			return nil, err
		}
		p.stats = cached
	}
	return p, nil
}

func withTransformerDefaults(cfg TransformerConfig) TransformerConfig {
	def := DefaultTransformerConfig()
	if cfg.Heads <= 0 {
		cfg.Heads = def.Heads
	}
	if cfg.FFUnits <= 0 {
		cfg.FFUnits = def.FFUnits
	}
	if cfg.Placement == "" {
		cfg.Placement = def.Placement
	}
	return cfg
}

func (p *Processor) Space() *features.Space {
	return p.space
}

func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Model returns the last successfully built model, or nil.
func (p *Processor) Model() *model.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Statistics returns the statistics the processor builds with, computing
// nothing.
func (p *Processor) Statistics() *stats.Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// GetFeatureStatistics returns the metadata block describing the feature
// grouping, crosses and statistics.
func (p *Processor) GetFeatureStatistics() model.Metadata {
	s := p.Statistics()
	return p.metadata(s, p.group(s))
}

func (p *Processor) metadata(s *stats.Statistics, g groups) model.Metadata {
	return model.Metadata{
		FeatureStatistics:   s,
		NumericFeatures:     g.numeric,
		CategoricalFeatures: g.categorical,
		TextFeatures:        g.text,
		DateFeatures:        g.date,
		FeatureCrosses:      append([]Cross(nil), p.crosses...),
		OutputMode:          string(p.mode),
	}
}

// Build assembles the preprocessing model. On failure no model is exposed
// and the original error is returned.
func (p *Processor) Build(ctx context.Context) (m *model.Model, err error) {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	defer timed(p.log, "build")()

	pool := worker.New(worker.WithSize(p.poolSize), worker.WithLogr(p.log.WithName("pool")))
	defer func() {
		p.memo.clear()
		pool.Close()
		if err != nil {
			p.mu.Lock()
			p.state = StateFailed
			p.model = nil
			p.mu.Unlock()
			p.log.Error(err, "Build failed")
		}
	}()

	if p.space.Len() == 0 {
		return nil, ErrNoFeatures
	}
	s, err := p.ensureStatistics(ctx)
	if err != nil {
		return nil, err
	}
	p.setState(StateStatsReady)

	groups := p.group(s)
	a := newAssembly(p, s, pool)
	if err := a.buildInputs(ctx, groups); err != nil {
		return nil, err
	}
	p.setState(StateInputsBuilt)

	if err := a.buildFeatures(ctx, groups); err != nil {
		return nil, err
	}
	p.setState(StateFeaturesBuilt)

	if err := a.buildCrosses(); err != nil {
		return nil, err
	}
	p.setState(StateCrossesBuilt)

	outputs, err := a.fuse()
	if err != nil {
		return nil, err
	}
	p.setState(StateOutputsFused)

	inputs, err := a.modelInputs()
	if err != nil {
		return nil, err
	}
	m = model.New(a.graph, inputs, outputs, p.metadata(s, groups))

	p.mu.Lock()
	p.state = StateGraphBuilt
	p.model = m
	p.mu.Unlock()
	p.log.Info("Built preprocessing model", "features", p.space.Len(), "nodes", a.graph.Len(), "outputs", m.OutputNames())
	return m, nil
}

// ensureStatistics returns the statistics this build uses, computing them
// when missing or when overwriting is requested.
func (p *Processor) ensureStatistics(ctx context.Context) (*stats.Statistics, error) {
	current := p.Statistics()
	if !current.Empty() && !p.overwriteStats {
		return current, nil
	}
	if p.collectorFactory == nil {
		return nil, ErrNoStatisticsCollector
	}
	done := timed(p.log, "statistics")
	computed, err := p.collectorFactory(p.space).Compute(ctx)
	done()
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	p.mu.Lock()
	p.stats = computed
	p.mu.Unlock()
	if p.statsPath != "" {
		if err := stats.Save(p.statsPath, computed); err != nil {
			return nil, err
		}
		p.log.Info("Saved statistics", "path", p.statsPath)
	}
	return computed, nil
}

// assembly is the state of one build: its statistics snapshot, graph and
// output sets.
type assembly struct {
	p     *Processor
	stats *stats.Statistics
	pool  *worker.Pool
	graph *graph.Graph

	inputs             *graph.OutputSet
	plainOutputs       *graph.OutputSet
	categoricalOutputs *graph.OutputSet
}

func newAssembly(p *Processor, s *stats.Statistics, pool *worker.Pool) *assembly {
	return &assembly{
		p:                  p,
		stats:              s,
		pool:               pool,
		graph:              graph.New(p.registry),
		inputs:             graph.NewOutputSet(),
		plainOutputs:       graph.NewOutputSet(),
		categoricalOutputs: graph.NewOutputSet(),
	}
}

// modelInputs lists the input placeholders in declaration order.
func (a *assembly) modelInputs() ([]*graph.Node, error) {
	var inputs []*graph.Node
	for _, name := range a.p.space.Names() {
		n, ok := a.inputs.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: input %s", graph.ErrNodeNotFound, name)
		}
		inputs = append(inputs, n)
	}
	return inputs, nil
}
