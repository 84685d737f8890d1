package io

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"

	"tabprep/pkg/tensor"
)

const defaultIdleTimeout = 5 * time.Second

// KafkaSource consumes JSON objects keyed by column name from a topic. The
// source is exhausted once no record arrives within the idle timeout.
type KafkaSource struct {
	client    *kgo.Client
	schema    Schema
	batchSize int
	idle      time.Duration
	log       logr.Logger

	pending []*kgo.Record
	errors  []DataError
}

type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Group     string
	BatchSize int
	// IdleTimeout ends the stream when a poll stays empty this long.
	IdleTimeout time.Duration
}

func NewKafkaSource(cfg KafkaConfig, schema Schema, log logr.Logger) (*KafkaSource, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if cfg.Group != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.Group))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating kafka client: %w", err)
	}
	return newKafkaSource(client, cfg, schema, log), nil
}

func newKafkaSource(client *kgo.Client, cfg KafkaConfig, schema Schema, log logr.Logger) *KafkaSource {
	s := &KafkaSource{client: client, schema: schema, batchSize: cfg.BatchSize, idle: cfg.IdleTimeout, log: log}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.idle <= 0 {
		s.idle = defaultIdleTimeout
	}
	return s
}

func (s *KafkaSource) Next(ctx context.Context) (map[string]*tensor.Value, error) {
	b := newBatcher(s.schema)
	for b.rows < s.batchSize {
		if len(s.pending) == 0 {
			records, err := s.poll(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				break
			}
			s.pending = records
		}
		record := s.pending[0]
		s.pending = s.pending[1:]
		if err := s.add(b, record); err != nil {
			s.errors = append(s.errors, DataError{Line: int(record.Offset), Error: err.Error()})
		}
	}
	if b.rows == 0 {
		return nil, io.EOF
	}
	return b.flush()
}

// poll returns nil once the idle timeout passes without records.
func (s *KafkaSource) poll(ctx context.Context) ([]*kgo.Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.idle)
	defer cancel()

	fetches := s.client.PollRecords(pollCtx, s.batchSize)
	if fetches.IsClientClosed() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, fetchError := range fetches.Errors() {
		if errors.Is(fetchError.Err, context.DeadlineExceeded) || errors.Is(fetchError.Err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("fetch error on topic %s, partition %d: %w", fetchError.Topic, fetchError.Partition, fetchError.Err)
	}
	var records []*kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, r)
	})
	s.log.V(1).Info("Polled records", "count", len(records))
	return records, nil
}

func (s *KafkaSource) add(b *batcher, record *kgo.Record) error {
	decoder := json.NewDecoder(bytes.NewReader(record.Value))
	decoder.UseNumber()
	var values map[string]interface{}
	if err := decoder.Decode(&values); err != nil {
		return fmt.Errorf("error decoding record: %w", err)
	}
	return b.add(func(column string) (string, bool) {
		switch v := values[column].(type) {
		case string:
			return v, true
		case json.Number:
			return v.String(), true
		case bool:
			return strconv.FormatBool(v), true
		}
		return "", false
	})
}

func (s *KafkaSource) Errors() []DataError {
	return s.errors
}

func (s *KafkaSource) Close() error {
	s.client.Close()
	return nil
}
