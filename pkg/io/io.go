// Package io reads input batches for statistics and inference, and persists
// built models.
package io

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"tabprep/pkg/features"
	"tabprep/pkg/model"
	"tabprep/pkg/tensor"
)

// DefaultBatchSize is the number of rows per batch when none is set.
const DefaultBatchSize = 50_000

// BatchSource yields column batches keyed by feature name and returns io.EOF
// once exhausted.
type BatchSource interface {
	Next(ctx context.Context) (map[string]*tensor.Value, error)
}

// Resetter is implemented by sources that can be read again from the start.
type Resetter interface {
	Reset() error
}

// Schema maps the columns to read to their dtype.
type Schema map[string]tensor.DType

// SchemaOf reads every declared feature with its declared dtype.
func SchemaOf(space *features.Space) Schema {
	schema := Schema{}
	for _, name := range space.Names() {
		f, _ := space.Get(name)
		schema[name] = f.DType()
	}
	return schema
}

// SchemaFromModel reads the inputs of a built model.
func SchemaFromModel(m *model.Model) Schema {
	schema := Schema{}
	for name, spec := range m.Signature() {
		schema[name] = spec.DType
	}
	return schema
}

func (s Schema) columns() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type DataError struct {
	Line  int
	Error string
}

func checkCell(dtype tensor.DType, cell string) error {
	var err error
	switch dtype {
	case tensor.Float32:
		_, err = strconv.ParseFloat(strings.TrimSpace(cell), 64)
	case tensor.Int64:
		_, err = strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
	}
	return err
}

// batcher accumulates validated rows column by column.
type batcher struct {
	schema  Schema
	columns []string
	cells   map[string][]string
	rows    int
}

func newBatcher(schema Schema) *batcher {
	return &batcher{schema: schema, columns: schema.columns(), cells: map[string][]string{}}
}

// add appends a row given as a column lookup, or returns why it was
// rejected.
func (b *batcher) add(get func(column string) (string, bool)) error {
	row, err := b.schema.read(b.columns, get)
	if err != nil {
		return err
	}
	for i, column := range b.columns {
		b.cells[column] = append(b.cells[column], row[i])
	}
	b.rows++
	return nil
}

// read validates one row against the schema and returns its cells in
// column order.
func (s Schema) read(columns []string, get func(column string) (string, bool)) ([]string, error) {
	row := make([]string, len(columns))
	for i, column := range columns {
		cell, ok := get(column)
		if !ok {
			return nil, fmt.Errorf("missing value for %s", column)
		}
		if err := checkCell(s[column], cell); err != nil {
			return nil, fmt.Errorf("error parsing feature %s: %w", column, err)
		}
		row[i] = cell
	}
	return row, nil
}

func (b *batcher) flush() (map[string]*tensor.Value, error) {
	batch := make(map[string]*tensor.Value, len(b.columns))
	for _, column := range b.columns {
		v, err := tensor.Column(b.schema[column], b.cells[column])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		batch[column] = v
	}
	b.cells = map[string][]string{}
	b.rows = 0
	return batch, nil
}

// CSVSource reads a CSV file with a header line in batches. Rows that do not
// parse are skipped and reported by Errors.
type CSVSource struct {
	path      string
	schema    Schema
	batchSize int
	log       logr.Logger

	file    *os.File
	reader  *csv.Reader
	index   map[string]int
	line    int
	errors  []DataError
	batches int
}

type CSVOption func(*CSVSource)

var WithBatchSize = func(n int) CSVOption {
	return func(s *CSVSource) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

var WithLogr = func(log logr.Logger) CSVOption {
	return func(s *CSVSource) {
		s.log = log
	}
}

func NewCSVSource(path string, schema Schema, opts ...CSVOption) *CSVSource {
	s := &CSVSource{path: path, schema: schema, batchSize: DefaultBatchSize, log: logr.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CSVSource) open() error {
	inputFile, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	reader := csv.NewReader(inputFile)
	reader.Comma = ','

	// First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		inputFile.Close()
		return fmt.Errorf("error reading data header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	for _, column := range s.schema.columns() {
		if _, ok := index[column]; !ok {
			inputFile.Close()
			return fmt.Errorf("column %s not found in data header", column)
		}
	}
	s.file, s.reader, s.index, s.line = inputFile, reader, index, 1
	return nil
}

func (s *CSVSource) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	b := newBatcher(s.schema)
	more := func() bool { return b.rows < s.batchSize }
	if err := s.scan(more, b.add); err != nil {
		return nil, err
	}
	if b.rows == 0 {
		return nil, io.EOF
	}
	s.batches++
	s.log.V(1).Info("Read batch", "path", s.path, "batch", s.batches, "rows", b.rows)
	return b.flush()
}

// Rows reads every remaining valid row into memory. Rows that do not parse
// are skipped and reported by Errors, as with Next.
func (s *CSVSource) Rows(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	columns := s.schema.columns()
	var rows []Row
	more := func() bool { return ctx.Err() == nil }
	err := s.scan(more, func(get func(column string) (string, bool)) error {
		cells, err := s.schema.read(columns, get)
		if err != nil {
			return err
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = cells[i]
		}
		rows = append(rows, row)
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	s.log.V(1).Info("Read rows", "path", s.path, "rows", len(rows))
	return rows, nil
}

// scan hands records to add while more holds and the file has lines left.
// Records add rejects are kept as data errors.
func (s *CSVSource) scan(more func() bool, add func(get func(column string) (string, bool)) error) error {
	for more() {
		record, err := s.reader.Read()
		if err == io.EOF {
			return nil
		}
		s.line++
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return fmt.Errorf("error reading %s: %w", s.path, err)
		}
		if err != nil {
			s.errors = append(s.errors, DataError{Line: s.line, Error: err.Error()})
			continue
		}
		err = add(func(column string) (string, bool) {
			i := s.index[column]
			if i >= len(record) {
				return "", false
			}
			return record[i], true
		})
		if err != nil {
			s.errors = append(s.errors, DataError{Line: s.line, Error: err.Error()})
		}
	}
	return nil
}

// Errors returns the rows skipped so far.
func (s *CSVSource) Errors() []DataError {
	return s.errors
}

// Reset rewinds the source to the first data line.
func (s *CSVSource) Reset() error {
	err := s.Close()
	s.errors = nil
	s.batches = 0
	return err
}

func (s *CSVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}
