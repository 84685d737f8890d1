package io

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"tabprep/pkg/tensor"
)

// Row is one sample keyed by column name.
type Row map[string]string

// DataSet is an in-memory BatchSource over rows.
type DataSet struct {
	Data         []Row
	Schema       Schema
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	order        DatasetOrder
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	d.order = order
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		ind := d.Rand.Perm(len(d.currentOrder))
		for i := range ind {
			d.currentOrder[i] = d.dataIndices[ind[i]]
		}
	}
	d.currentIndex = 0
}

// Reset restarts the data set. A randomly ordered data set is reshuffled.
func (d *DataSet) Reset() error {
	d.ResetOrder(d.order)
	return nil
}

// Next returns the following BatchSize rows. A row missing a column or
// holding an unparsable value fails the batch.
func (d *DataSet) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.currentIndex >= len(d.currentOrder) {
		return nil, io.EOF
	}
	b := newBatcher(d.Schema)
	for ; d.currentIndex < len(d.currentOrder) && b.rows < d.BatchSize; d.currentIndex++ {
		idx := d.currentOrder[d.currentIndex]
		row := d.Data[idx]
		if err := b.add(func(column string) (string, bool) {
			cell, ok := row[column]
			return cell, ok
		}); err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}
	}
	return b.flush()
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

func NewDataSet(data []Row, schema Schema, batchSize int) *DataSet {
	dataIndices := make([]int, len(data))
	for i := range dataIndices {
		dataIndices[i] = i
	}
	return newDataSet(data, schema, batchSize, dataIndices)
}

func newDataSet(data []Row, schema Schema, batchSize int, indices []int) *DataSet {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ds := &DataSet{Data: data, Schema: schema, BatchSize: batchSize, dataIndices: indices, Rand: rand.New(rand.NewSource(42))}
	ds.ResetOrder(OriginalOrder)
	return ds
}

// RandomSplit shuffles the rows and partitions them into data sets of the
// given sizes.
func (d *DataSet) RandomSplit(sizes ...int) ([]*DataSet, error) {
	total := 0
	for _, size := range sizes {
		total += size
	}
	if total > len(d.dataIndices) {
		return nil, fmt.Errorf("cannot split %d rows into %v", len(d.dataIndices), sizes)
	}
	indices := make([]int, len(d.dataIndices))
	copy(indices, d.dataIndices)
	d.Rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	splits := make([]*DataSet, len(sizes))
	idx := 0
	for i := range sizes {
		splitIndices := make([]int, sizes[i])
		for j := range splitIndices {
			splitIndices[j] = indices[idx]
			idx++
		}
		splits[i] = newDataSet(d.Data, d.Schema, d.BatchSize, splitIndices)
	}
	return splits, nil
}

// Sample returns n rows drawn at random as a new data set. When n is not
// smaller than the data set, all rows are kept in random order.
func (d *DataSet) Sample(n int) (*DataSet, error) {
	if n <= 0 || n >= d.Size() {
		d.ResetOrder(RandomOrder)
		return d, nil
	}
	splits, err := d.RandomSplit(n)
	if err != nil {
		return nil, err
	}
	return splits[0], nil
}

// SampledSource serves a random sample of the valid rows of a CSV file. The
// file is loaded into memory on the first call to Next.
type SampledSource struct {
	src  *CSVSource
	size int
	data *DataSet
}

func NewSampledSource(src *CSVSource, size int) *SampledSource {
	return &SampledSource{src: src, size: size}
}

func (s *SampledSource) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	if s.data == nil {
		rows, err := s.src.Rows(ctx)
		if err != nil {
			return nil, err
		}
		sample, err := NewDataSet(rows, s.src.schema, s.src.batchSize).Sample(s.size)
		if err != nil {
			return nil, err
		}
		s.src.log.Info("Sampled rows", "path", s.src.path, "rows", len(rows), "sample", sample.Size())
		s.data = sample
	}
	return s.data.Next(ctx)
}

func (s *SampledSource) Reset() error {
	if s.data == nil {
		return nil
	}
	return s.data.Reset()
}
