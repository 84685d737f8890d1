package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tabprep/pkg"
)

// loadConfig reads the config file and lets the bound flags override it.
func loadConfig(cmd *cobra.Command, configFile string, flags map[string]string) (*pkg.Config, error) {
	v := pkg.NewViper()
	for key, flag := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
		}
	}
	return pkg.LoadConfig(v, configFile)
}

func BuildCommand() *cobra.Command {
	var configFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "build -c config -o outputFile",
		Short: "Builds the preprocessing model described by the config and saves it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, map[string]string{
				"data_path":       "data",
				"statistics_path": "statistics",
				"overwrite_stats": "overwrite-stats",
				"output_mode":     "output-mode",
				"batch_size":      "batch-size",
				"pool_size":       "pool-size",
			})
			if err != nil {
				return err
			}
			_, err = pkg.Build(cmd.Context(), cfg, outputFile)
			return err
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "name of config file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to")
	cmd.Flags().StringP("data", "i", "", "name of data file used to compute statistics")
	cmd.Flags().StringP("statistics", "s", "", "name of statistics cache file")
	cmd.Flags().Bool("overwrite-stats", false, "recompute statistics even if cached")
	cmd.Flags().String("output-mode", "concat", "output mode: concat or dict")
	cmd.Flags().IntP("batch-size", "b", 50_000, "rows per batch when reading data")
	cmd.Flags().Int("pool-size", 0, "number of features built concurrently (default: number of CPUs)")

	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func StatsCommand() *cobra.Command {
	var configFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "stats -c config -i dataFile [-o outputFile] [--sample rows]",
		Short: "Computes feature statistics from the data file and saves them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, map[string]string{
				"data_path":   "data",
				"batch_size":  "batch-size",
				"sample_size": "sample",
			})
			if err != nil {
				return err
			}
			_, err = pkg.ComputeStatistics(cmd.Context(), cfg, outputFile)
			return err
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "name of config file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of statistics file (defaults to statistics_path of the config)")
	cmd.Flags().StringP("data", "i", "", "name of data file")
	cmd.Flags().IntP("batch-size", "b", 50_000, "rows per batch when reading data")
	cmd.Flags().Int("sample", 0, "compute statistics on this many randomly drawn rows (0 reads all rows)")

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func PredictCommand() *cobra.Command {
	var configFile string
	var params pkg.PredictParameters

	var cmd = &cobra.Command{
		Use:   "predict -m modelFile (-i inputFile | --kafka-brokers brokers --kafka-topic topic) [-o outputFile]",
		Short: "Runs the saved model on the input data and optionally writes the outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, map[string]string{
				"batch_size":    "batch-size",
				"pool_size":     "pool-size",
				"kafka.brokers": "kafka-brokers",
				"kafka.topic":   "kafka-topic",
				"kafka.group":   "kafka-group",
			})
			if err != nil {
				return err
			}
			params.BatchSize = cfg.BatchSize
			params.PoolSize = cfg.PoolSize
			params.Kafka = cfg.Kafka
			return pkg.Predict(cmd.Context(), params)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "name of config file (optional)")
	cmd.Flags().StringVarP(&params.ModelFile, "model", "m", "", "name of model file")
	cmd.Flags().StringVarP(&params.InputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&params.OutputFile, "output", "o", "", "name of output file (optional)")
	cmd.Flags().BoolVarP(&params.Parallel, "parallel", "p", false, "evaluate batches concurrently")
	cmd.Flags().IntP("batch-size", "b", 50_000, "rows per batch")
	cmd.Flags().Int("pool-size", 0, "number of batches evaluated concurrently (default: number of CPUs)")
	cmd.Flags().StringSlice("kafka-brokers", nil, "kafka seed brokers to read input records from")
	cmd.Flags().String("kafka-topic", "", "kafka topic holding JSON input records")
	cmd.Flags().String("kafka-group", "", "kafka consumer group (optional)")

	_ = cmd.MarkFlagRequired("model")

	return cmd
}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "tabprep", PersistentPreRunE: setupLogging, SilenceUsage: true}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(BuildCommand())
	Main.AddCommand(StatsCommand())
	Main.AddCommand(PredictCommand())

	if err := Main.Execute(); err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		return fmt.Errorf("invalid logging level %q", logLevel)
	}

	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		return fmt.Errorf("invalid log format %q", logFormat)
	}
	return nil
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
