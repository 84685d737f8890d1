package pkg

import (
	"context"
	"errors"
	"fmt"
	gio "io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	dataio "tabprep/pkg/io"
	"tabprep/pkg/model"
	"tabprep/pkg/processor"
)

type PredictParameters struct {
	ModelFile  string
	InputFile  string
	OutputFile string
	BatchSize  int
	Parallel   bool
	PoolSize   int
	Kafka      KafkaConfig
}

type predictSource interface {
	dataio.BatchSource
	Errors() []dataio.DataError
	Close() error
}

func openSource(m *model.Model, params PredictParameters) (predictSource, error) {
	schema := dataio.SchemaFromModel(m)
	if params.InputFile != "" {
		return dataio.NewCSVSource(params.InputFile, schema,
			dataio.WithBatchSize(params.BatchSize), dataio.WithLogr(newLogr("csv"))), nil
	}
	if len(params.Kafka.Brokers) > 0 {
		return dataio.NewKafkaSource(params.Kafka.source(params.BatchSize), schema, newLogr("kafka"))
	}
	return nil, errors.New("no input file or kafka brokers given")
}

// Predict runs a saved model over an input file or Kafka topic and writes
// one line per sample to the output file.
func Predict(ctx context.Context, params PredictParameters) (err error) {
	m, err := dataio.LoadModelFile(params.ModelFile, nil)
	if err != nil {
		return fmt.Errorf("error loading model from file %s: %w", params.ModelFile, err)
	}
	source, err := openSource(m, params)
	if err != nil {
		return err
	}
	defer func() {
		printDataErrors(source.Errors())
		if closeErr := source.Close(); err == nil {
			err = closeErr
		}
	}()

	var outputWriter gio.Writer = NoopWriter{}
	if params.OutputFile != "" {
		outputFile, err := os.Create(params.OutputFile)
		if err != nil {
			return fmt.Errorf("error opening output file %s: %w", params.OutputFile, err)
		}
		defer outputFile.Close()
		outputWriter = outputFile
	}
	return predictInternal(ctx, m, source, outputWriter, params)
}

func predictInternal(ctx context.Context, m *model.Model, source dataio.BatchSource, w gio.Writer, params PredictParameters) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := fmt.Fprintln(w, strings.Join(outputHeader(m), ",")); err != nil {
		return err
	}
	summary := newOutputSummary(m.OutputNames())
	results := processor.BatchPredict(ctx, m, source,
		processor.WithParallel(params.Parallel),
		processor.WithPredictPoolSize(params.PoolSize),
		processor.WithPredictLogr(newLogr("predict")))

	batches := 0
	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		if err := writePrediction(w, r.Batch, r.Prediction, summary); err != nil {
			return err
		}
		batches++
	}
	if batches == 0 {
		return errors.New("no data to predict")
	}
	summary.LogMetrics()
	return nil
}

// outputHeader names every output column. Outputs wider than one value get
// an index suffix.
func outputHeader(m *model.Model) []string {
	header := []string{"batch", "row"}
	dims := m.OutputDims()
	for i, name := range m.OutputNames() {
		if dims[i] <= 1 {
			header = append(header, name)
			continue
		}
		for j := 0; j < dims[i]; j++ {
			header = append(header, name+"_"+strconv.Itoa(j))
		}
	}
	return header
}

func writePrediction(w gio.Writer, batch int, p *model.Prediction, summary *outputSummary) error {
	columns := make([][]string, len(p.Values))
	for i, v := range p.Values {
		data, err := v.AsFloats()
		if err != nil {
			columns[i] = v.Strings
			continue
		}
		summary.add(i, data)
		cells := make([]string, len(data))
		for j, x := range data {
			cells[j] = strconv.FormatFloat(x, 'f', 5, 64)
		}
		columns[i] = cells
	}

	for row := 0; row < p.Rows(); row++ {
		line := []string{strconv.Itoa(batch), strconv.Itoa(row)}
		for i, v := range p.Values {
			width := v.RowWidth()
			line = append(line, columns[i][row*width:(row+1)*width]...)
		}
		if _, err := fmt.Fprintln(w, strings.Join(line, ",")); err != nil {
			return err
		}
	}
	return nil
}

// outputSummary tracks the distribution of every output over a run.
type outputSummary struct {
	names  []string
	values [][]float64
}

func newOutputSummary(names []string) *outputSummary {
	return &outputSummary{names: names, values: make([][]float64, len(names))}
}

func (s *outputSummary) add(output int, data []float64) {
	s.values[output] = append(s.values[output], data...)
}

func (s *outputSummary) LogMetrics() {
	for i, name := range s.names {
		if len(s.values[i]) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(s.values[i], nil)
		log.Info().Str("Output", name).
			Int("Values", len(s.values[i])).
			Float64("Mean", mean).
			Float64("StdDev", std).
			Msg("")
	}
}
