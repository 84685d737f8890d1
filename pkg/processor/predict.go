package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"

	dataio "tabprep/pkg/io"
	"tabprep/pkg/model"
	"tabprep/pkg/tensor"
	"tabprep/pkg/worker"
)

// Result is one evaluated batch, or the error that ended the stream.
type Result struct {
	Batch      int
	Prediction *model.Prediction
	Err        error
}

type predictConfig struct {
	parallel  bool
	batchSize int
	poolSize  int
	log       logr.Logger
}

type PredictOption func(*predictConfig)

// WithParallel evaluates batches on a worker pool. Results then arrive in
// completion order.
var WithParallel = func(parallel bool) PredictOption {
	return func(c *predictConfig) {
		c.parallel = parallel
	}
}

// WithPredictBatches sets how many batches are collected before a parallel
// round is evaluated.
var WithPredictBatches = func(n int) PredictOption {
	return func(c *predictConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

var WithPredictPoolSize = func(n int) PredictOption {
	return func(c *predictConfig) {
		c.poolSize = n
	}
}

var WithPredictLogr = func(log logr.Logger) PredictOption {
	return func(c *predictConfig) {
		c.log = log
	}
}

// BatchPredict evaluates m on every batch of source. Batches are read
// lazily as the returned channel is drained; the channel is closed after
// the last result. Sources implementing io.Resetter are rewound first, so
// every call reads from the start.
func BatchPredict(ctx context.Context, m *model.Model, source dataio.BatchSource, opts ...PredictOption) <-chan Result {
	cfg := predictConfig{batchSize: 8, log: logr.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}
	results := make(chan Result)
	go func() {
		defer close(results)
		if r, ok := source.(dataio.Resetter); ok {
			if err := r.Reset(); err != nil {
				send(ctx, results, Result{Err: fmt.Errorf("resetting source: %w", err)})
				return
			}
		}
		var err error
		if cfg.parallel {
			err = predictParallel(ctx, m, source, cfg, results)
		} else {
			err = predictSequential(ctx, m, source, results)
		}
		if err != nil {
			send(ctx, results, Result{Err: err})
		}
	}()
	return results
}

func send(ctx context.Context, results chan<- Result, r Result) bool {
	select {
	case results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func predictSequential(ctx context.Context, m *model.Model, source dataio.BatchSource, results chan<- Result) error {
	for i := 0; ; i++ {
		feeds, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pred, err := m.Predict(feeds)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if !send(ctx, results, Result{Batch: i, Prediction: pred}) {
			return nil
		}
	}
}

func predictParallel(ctx context.Context, m *model.Model, source dataio.BatchSource, cfg predictConfig, results chan<- Result) error {
	pool := worker.New(worker.WithSize(cfg.poolSize), worker.WithLogr(cfg.log.WithName("predict")))
	defer pool.Close()

	next := 0
	for done := false; !done; {
		var round []map[string]*tensor.Value
		for len(round) < cfg.batchSize {
			feeds, err := source.Next(ctx)
			if errors.Is(err, io.EOF) {
				done = true
				break
			}
			if err != nil {
				return err
			}
			round = append(round, feeds)
		}
		if len(round) == 0 {
			return nil
		}

		var mu sync.Mutex
		tasks := make([]worker.Task, len(round))
		for i, feeds := range round {
			batch, feeds := next+i, feeds
			tasks[i] = worker.Task{Name: fmt.Sprintf("batch %d", batch), Run: func(ctx context.Context) error {
				pred, err := m.Predict(feeds)
				if err != nil {
					return fmt.Errorf("batch %d: %w", batch, err)
				}
				mu.Lock()
				defer mu.Unlock()
				send(ctx, results, Result{Batch: batch, Prediction: pred})
				return nil
			}}
		}
		next += len(round)
		if err := pool.Run(ctx, tasks...); err != nil {
			return err
		}
	}
	return nil
}
