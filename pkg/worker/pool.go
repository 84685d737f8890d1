// Package worker runs batches of independent tasks on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrPanic      = errors.New("task panicked")
)

type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool bounds the number of tasks running at once. A pool is owned by one
// caller and closed when that caller is done with it.
type Pool struct {
	size int
	log  logr.Logger

	mu     sync.Mutex
	closed bool
}

type Option func(*Pool)

var WithLogr = func(log logr.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// WithSize sets the number of concurrent tasks. Values below 1 keep the
// default of one task per CPU.
var WithSize = func(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

func New(opts ...Option) *Pool {
	p := &Pool{size: runtime.NumCPU(), log: logr.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Size() int {
	return p.size
}

// Run executes tasks and waits for them. Once a task fails, tasks that have
// not started yet are skipped and running ones finish; the first error is
// returned as is.
func (p *Pool) Run(ctx context.Context, tasks ...Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.run(gctx, task); err != nil {
				p.log.Error(err, "Task failed", "task", task.Name)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanic, task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Close makes later Run calls fail with ErrPoolClosed. It is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
