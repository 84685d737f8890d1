package pkg

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"tabprep/pkg/features"
	dataio "tabprep/pkg/io"
	"tabprep/pkg/model"
	"tabprep/pkg/processor"
	"tabprep/pkg/stats"
)

// csvCollectors opens CSV sources on demand for statistics collection and
// closes them when the build is done. A positive sample size computes the
// statistics on that many randomly drawn rows.
type csvCollectors struct {
	path      string
	batchSize int
	sample    int
	log       logr.Logger
	sources   []*dataio.CSVSource
}

func newCSVCollectors(cfg *Config, log logr.Logger) *csvCollectors {
	return &csvCollectors{path: cfg.DataPath, batchSize: cfg.BatchSize, sample: cfg.SampleSize, log: log}
}

func (c *csvCollectors) collector(space *features.Space) processor.StatisticsCollector {
	src := dataio.NewCSVSource(c.path, dataio.SchemaOf(space),
		dataio.WithBatchSize(c.batchSize), dataio.WithLogr(c.log.WithName("csv")))
	c.sources = append(c.sources, src)
	var source stats.Source = src
	if c.sample > 0 {
		source = dataio.NewSampledSource(src, c.sample)
	}
	return stats.NewCollector(source, space, stats.WithLogr(c.log.WithName("stats")))
}

func (c *csvCollectors) close() error {
	var err error
	for _, src := range c.sources {
		printDataErrors(src.Errors())
		err = multierr.Append(err, src.Close())
	}
	c.sources = nil
	return err
}

// Build constructs the preprocessing model described by cfg, computing
// statistics from cfg.DataPath when none are cached, and saves it to
// outputFile.
func Build(ctx context.Context, cfg *Config, outputFile string) (*model.Model, error) {
	decls, err := cfg.Declarations()
	if err != nil {
		return nil, err
	}
	logger := newLogr("processor")
	opts := append(cfg.ProcessorOptions(), processor.WithLogr(logger))

	collectors := newCSVCollectors(cfg, logger)
	if cfg.DataPath != "" {
		opts = append(opts, processor.WithCollector(collectors.collector))
	}

	p, err := processor.New(decls, opts...)
	if err != nil {
		return nil, err
	}
	m, err := p.Build(ctx)
	if closeErr := collectors.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("error building model: %w", err)
	}

	for i, name := range m.OutputNames() {
		log.Info().Str("output", name).Int("width", m.OutputDims()[i]).Msg("Model output")
	}
	if outputFile != "" {
		if err := dataio.SaveModelFile(m, outputFile); err != nil {
			return nil, fmt.Errorf("error saving model to %s: %w", outputFile, err)
		}
		log.Info().Str("path", outputFile).Msg("Saved model")
	}
	return m, nil
}

// ComputeStatistics scans cfg.DataPath once, or a random sample of it when
// cfg.SampleSize is set, and writes the statistics of the configured
// features to cfg.StatisticsPath, or outputFile when set.
func ComputeStatistics(ctx context.Context, cfg *Config, outputFile string) (*stats.Statistics, error) {
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("no data path configured")
	}
	decls, err := cfg.Declarations()
	if err != nil {
		return nil, err
	}
	space, err := features.Normalize(decls)
	if err != nil {
		return nil, err
	}
	if outputFile == "" {
		outputFile = cfg.StatisticsPath
	}

	collectors := newCSVCollectors(cfg, newLogr("stats"))
	computed, err := collectors.collector(space).Compute(ctx)
	if closeErr := collectors.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("error computing statistics from %s: %w", cfg.DataPath, err)
	}
	log.Info().
		Int("numeric", len(computed.Numeric)).
		Int("categorical", len(computed.Categorical)).
		Int("text", len(computed.Text)).
		Msg("Computed statistics")

	if outputFile != "" {
		if err := stats.Save(outputFile, computed); err != nil {
			return nil, err
		}
		log.Info().Str("path", outputFile).Msg("Saved statistics")
	}
	return computed, nil
}
