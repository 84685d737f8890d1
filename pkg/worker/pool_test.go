package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestPool_RunsAllTasks(t *testing.T) {
	p := New(WithSize(4))
	defer p.Close()

	var mu sync.Mutex
	seen := map[string]bool{}
	var tasks []Task
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("f%d", i)
		tasks = append(tasks, Task{Name: name, Run: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = true
			return nil
		}})
	}
	assert.NoError(t, p.Run(context.Background(), tasks...))
	assert.Equal(t, 20, len(seen))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(WithSize(2))
	defer p.Close()

	var running, peak int32
	task := Task{Name: "slow", Run: func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}}
	assert.NoError(t, p.Run(context.Background(), task, task, task, task, task, task))
	assert.True(t, atomic.LoadInt32(&peak) <= 2)
}

func TestPool_FirstErrorUnchanged(t *testing.T) {
	p := New(WithSize(1))
	defer p.Close()

	boom := errors.New("boom")
	var after int32
	err := p.Run(context.Background(),
		Task{Name: "ok", Run: func(ctx context.Context) error { return nil }},
		Task{Name: "bad", Run: func(ctx context.Context) error { return boom }},
		Task{Name: "late", Run: func(ctx context.Context) error {
			atomic.AddInt32(&after, 1)
			return nil
		}},
	)
	assert.Equal(t, boom, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&after))
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New()
	defer p.Close()

	err := p.Run(context.Background(), Task{Name: "explode", Run: func(ctx context.Context) error {
		panic("kaboom")
	}})
	assert.True(t, errors.Is(err, ErrPanic))
	assert.Contains(t, err.Error(), "explode")
}

func TestPool_Closed(t *testing.T) {
	p := New()
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	err := p.Run(context.Background(), Task{Name: "x", Run: func(ctx context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestPool_CancelledContext(t *testing.T) {
	p := New()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	err := p.Run(ctx, Task{Name: "x", Run: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestPool_DefaultSize(t *testing.T) {
	assert.True(t, New().Size() >= 1)
	assert.Equal(t, 3, New(WithSize(3)).Size())
	assert.Equal(t, New().Size(), New(WithSize(0)).Size())
}
