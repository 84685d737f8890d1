package pkg

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tabprep/pkg/features"
	dataio "tabprep/pkg/io"
	"tabprep/pkg/layers"
	"tabprep/pkg/processor"
)

// FeatureConfig declares one input column in the config file.
type FeatureConfig struct {
	Name          string                 `mapstructure:"name"`
	Type          string                 `mapstructure:"type"`
	Encoding      string                 `mapstructure:"encoding"`
	Preprocessors []string               `mapstructure:"preprocessors"`
	Config        map[string]interface{} `mapstructure:"config"`
}

type CrossConfig struct {
	A    string `mapstructure:"a"`
	B    string `mapstructure:"b"`
	Bins int    `mapstructure:"bins"`
}

type TransformerConfig struct {
	Blocks    int     `mapstructure:"blocks"`
	Heads     int     `mapstructure:"heads"`
	FFUnits   int     `mapstructure:"ff_units"`
	Dropout   float64 `mapstructure:"dropout"`
	Placement string  `mapstructure:"placement"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	Group       string        `mapstructure:"group"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// Config is the contents of a tabprep config file.
type Config struct {
	Features       []FeatureConfig   `mapstructure:"features"`
	Crosses        []CrossConfig     `mapstructure:"crosses"`
	OutputMode     string            `mapstructure:"output_mode"`
	Transformer    TransformerConfig `mapstructure:"transformer"`
	StatisticsPath string            `mapstructure:"statistics_path"`
	OverwriteStats bool              `mapstructure:"overwrite_stats"`
	DataPath       string            `mapstructure:"data_path"`
	BatchSize      int               `mapstructure:"batch_size"`
	SampleSize     int               `mapstructure:"sample_size"`
	PoolSize       int               `mapstructure:"pool_size"`
	Caching        bool              `mapstructure:"caching"`
	Kafka          KafkaConfig       `mapstructure:"kafka"`
}

// NewViper returns a viper instance holding the config defaults. Every key
// can also be set through a TABPREP_ prefixed environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	defaults := processor.DefaultTransformerConfig()
	v.SetDefault("output_mode", string(processor.OutputConcat))
	v.SetDefault("batch_size", dataio.DefaultBatchSize)
	v.SetDefault("caching", true)
	v.SetDefault("transformer.heads", defaults.Heads)
	v.SetDefault("transformer.ff_units", defaults.FFUnits)
	v.SetDefault("transformer.dropout", defaults.Dropout)
	v.SetDefault("transformer.placement", string(defaults.Placement))
	v.SetDefault("kafka.idle_timeout", "5s")

	v.SetEnvPrefix("tabprep")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads path, if set, into v and decodes the result.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &cfg, nil
}

// Declarations turns the configured features into processor declarations.
// Features with preprocessors, keyword configuration or an encoding become
// custom descriptors.
func (c *Config) Declarations() ([]features.Declaration, error) {
	decls := make([]features.Declaration, 0, len(c.Features))
	for _, f := range c.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature without name in config")
		}
		t, err := features.ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		if len(f.Preprocessors) == 0 && len(f.Config) == 0 && f.Encoding == "" {
			decls = append(decls, features.Declaration{Name: f.Name, Spec: t})
			continue
		}
		encoding, err := parseEncoding(f.Encoding)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		decls = append(decls, features.Declaration{Name: f.Name, Spec: &features.Custom{
			Type:          t,
			Preprocessors: f.Preprocessors,
			Kwargs:        layers.Config(f.Config),
			Encoding:      encoding,
		}})
	}
	return decls, nil
}

func parseEncoding(s string) (features.CategoryEncoding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "EMBEDDING":
		return features.Embedding, nil
	case "ONE_HOT", "ONE_HOT_ENCODING", "ONEHOT":
		return features.OneHot, nil
	}
	return "", fmt.Errorf("unknown category encoding %q", s)
}

// ProcessorOptions maps the config onto processor options. Statistics
// collection is wired separately since it needs the data source.
func (c *Config) ProcessorOptions() []processor.Option {
	crosses := make([]processor.Cross, len(c.Crosses))
	for i, cross := range c.Crosses {
		crosses[i] = processor.Cross{A: cross.A, B: cross.B, Bins: cross.Bins}
	}
	return []processor.Option{
		processor.WithOutputMode(processor.OutputMode(c.OutputMode)),
		processor.WithCrosses(crosses...),
		processor.WithTransformer(processor.TransformerConfig{
			Blocks:    c.Transformer.Blocks,
			Heads:     c.Transformer.Heads,
			FFUnits:   c.Transformer.FFUnits,
			Dropout:   c.Transformer.Dropout,
			Placement: processor.Placement(c.Transformer.Placement),
		}),
		processor.WithStatisticsPath(c.StatisticsPath),
		processor.WithOverwriteStats(c.OverwriteStats),
		processor.WithPoolSize(c.PoolSize),
		processor.WithCaching(c.Caching),
	}
}

func (k KafkaConfig) source(batchSize int) dataio.KafkaConfig {
	return dataio.KafkaConfig{
		Brokers:     k.Brokers,
		Topic:       k.Topic,
		Group:       k.Group,
		BatchSize:   batchSize,
		IdleTimeout: k.IdleTimeout,
	}
}
