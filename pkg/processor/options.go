package processor

import (
	"context"

	"github.com/go-logr/logr"

	"tabprep/pkg/features"
	"tabprep/pkg/layers"
	"tabprep/pkg/model"
	"tabprep/pkg/stats"
)

type OutputMode string

const (
	OutputConcat OutputMode = model.OutputConcat
	OutputDict   OutputMode = model.OutputDict
)

// Placement selects which part of the fused vector transformer blocks see.
type Placement string

const (
	PlacementCategorical Placement = "categorical"
	PlacementAllFeatures Placement = "all_features"
)

type Cross = model.Cross

// TransformerConfig enables Blocks transformer blocks after fusion when
// Blocks > 0. Only used in concat mode.
type TransformerConfig struct {
	Blocks    int
	Heads     int
	FFUnits   int
	Dropout   float64
	Placement Placement
}

func DefaultTransformerConfig() TransformerConfig {
	return TransformerConfig{Heads: 3, FFUnits: 16, Dropout: 0.25, Placement: PlacementCategorical}
}

// StatisticsCollector computes dataset statistics for the declared features.
type StatisticsCollector interface {
	Compute(ctx context.Context) (*stats.Statistics, error)
}

type Option func(*Processor)

var WithLogr = func(log logr.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

var WithStatistics = func(s *stats.Statistics) Option {
	return func(p *Processor) {
		p.stats = s
	}
}

// WithStatisticsPath sets the cache file loaded at construction when no
// statistics are given, and written after statistics are computed.
var WithStatisticsPath = func(path string) Option {
	return func(p *Processor) {
		p.statsPath = path
	}
}

// WithCollector sets the collector used when statistics are missing or
// WithOverwriteStats is set. The collector is built from the normalized
// feature space.
var WithCollector = func(factory func(space *features.Space) StatisticsCollector) Option {
	return func(p *Processor) {
		p.collectorFactory = factory
	}
}

var WithOverwriteStats = func(overwrite bool) Option {
	return func(p *Processor) {
		p.overwriteStats = overwrite
	}
}

var WithCrosses = func(crosses ...Cross) Option {
	return func(p *Processor) {
		p.crosses = append(p.crosses, crosses...)
	}
}

var WithOutputMode = func(mode OutputMode) Option {
	return func(p *Processor) {
		p.mode = mode
	}
}

var WithTransformer = func(cfg TransformerConfig) Option {
	return func(p *Processor) {
		p.transformer = cfg
	}
}

// WithPoolSize bounds the concurrent per-feature work. The default is the
// number of CPUs.
var WithPoolSize = func(n int) Option {
	return func(p *Processor) {
		p.poolSize = n
	}
}

var WithRegistry = func(r *layers.Registry) Option {
	return func(p *Processor) {
		p.registry = r
	}
}

var WithCaching = func(enabled bool) Option {
	return func(p *Processor) {
		p.memo.enabled = enabled
	}
}
